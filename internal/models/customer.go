package models

import (
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusApproved LoanStatus = "Approved"
	LoanStatusRejected LoanStatus = "Rejected"
)

// Resolved reports whether the loan has a final Approved or Rejected decision.
// The comparison is exact; "approved" or "Pending" are not resolved.
func (s LoanStatus) Resolved() bool {
	return s == LoanStatusApproved || s == LoanStatusRejected
}

// Field is a source cell in a column the dashboard does not interpret. Such
// cells are carried through to the report unchanged.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CustomerProfile is one row of customer_profiles.csv. Numeric cells may be
// empty in the source, which is kept as an invalid NullDecimal.
type CustomerProfile struct {
	CustomerID        string              `json:"customer_id"`
	TotalBalance      decimal.NullDecimal `json:"total_balance"`
	TotalLoans        decimal.NullDecimal `json:"total_loans"`
	CreditCardBalance decimal.NullDecimal `json:"credit_card_balance"`
	Extra             []Field             `json:"extra,omitempty"`
}

// Features returns total_balance, total_loans and credit_card_balance with
// missing values treated as zero.
func (p CustomerProfile) Features() [3]float64 {
	return [3]float64{
		valueOrZero(p.TotalBalance),
		valueOrZero(p.TotalLoans),
		valueOrZero(p.CreditCardBalance),
	}
}

type Loan struct {
	CustomerID   string          `json:"customer_id"`
	LoanType     string          `json:"loan_type"`
	Amount       decimal.Decimal `json:"amount"`
	InterestRate float64         `json:"interest_rate"`
	Status       LoanStatus      `json:"status"`
	Extra        []Field         `json:"extra,omitempty"`
}

type CreditCard struct {
	CustomerID  string          `json:"customer_id"`
	CardType    string          `json:"card_type"`
	Balance     decimal.Decimal `json:"balance"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	// UsagePercent is nil when the credit limit is zero.
	UsagePercent *float64 `json:"usage_percent"`
	Extra        []Field  `json:"extra,omitempty"`
}

// HighUsage reports whether the card utilisation is strictly above threshold.
// Cards without a defined utilisation never qualify.
func (c CreditCard) HighUsage(threshold float64) bool {
	return c.UsagePercent != nil && *c.UsagePercent > threshold
}

func valueOrZero(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.InexactFloat64()
}
