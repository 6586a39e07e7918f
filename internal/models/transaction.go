package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction keeps the timestamp as it appeared in the source file; it is
// parsed when a customer view is built.
type Transaction struct {
	AccountID string          `json:"account_id"`
	Timestamp string          `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
}

type DatedTransaction struct {
	AccountID string          `json:"account_id"`
	Timestamp time.Time       `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
}

type DailyTotal struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}
