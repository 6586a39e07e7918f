// Package view derives the per-customer slice of the dataset shown on the
// dashboard: profile, loans, cards, transactions and their daily totals.
package view

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/models"
)

const DefaultHighUsageThreshold = 80.0

const dateLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	dateLayout,
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Dataset is the read side of the dataset store.
type Dataset interface {
	Profiles() []models.CustomerProfile
	Transactions() []models.Transaction
	Loans() []models.Loan
	CreditCards() []models.CreditCard
}

type Builder struct {
	data      Dataset
	threshold float64
}

func NewBuilder(data Dataset, highUsageThreshold float64) *Builder {
	if highUsageThreshold <= 0 {
		highUsageThreshold = DefaultHighUsageThreshold
	}
	return &Builder{data: data, threshold: highUsageThreshold}
}

// Build filters every table down to customerID. An unknown id is not an
// error: the view comes back with a nil profile and empty collections.
// Transactions are matched against the ids of the matching profile rows, so
// an id without a profile has no transactions either.
func (b *Builder) Build(customerID string) (*models.CustomerView, error) {
	v := &models.CustomerView{
		CustomerID:     customerID,
		Loans:          []models.Loan{},
		CreditCards:    []models.CreditCard{},
		Transactions:   []models.DatedTransaction{},
		DailyTotals:    []models.DailyTotal{},
		HighUsageCards: []models.CreditCard{},
	}

	accounts := make(map[string]struct{}, 1)
	for _, p := range b.data.Profiles() {
		if p.CustomerID == customerID {
			profile := p
			v.Profile = &profile
			accounts[p.CustomerID] = struct{}{}
			break
		}
	}

	for _, l := range b.data.Loans() {
		if l.CustomerID == customerID {
			v.Loans = append(v.Loans, l)
		}
	}

	for _, c := range b.data.CreditCards() {
		if c.CustomerID != customerID {
			continue
		}
		v.CreditCards = append(v.CreditCards, c)
		if c.HighUsage(b.threshold) {
			v.HighUsageCards = append(v.HighUsageCards, c)
		}
	}
	v.HighUsageAlert = len(v.HighUsageCards) > 0

	for _, t := range b.data.Transactions() {
		if _, ok := accounts[t.AccountID]; !ok {
			continue
		}
		ts, err := ParseTimestamp(t.Timestamp)
		if err != nil {
			return nil, err
		}
		v.Transactions = append(v.Transactions, models.DatedTransaction{
			AccountID: t.AccountID,
			Timestamp: ts,
			Amount:    t.Amount,
		})
	}

	v.DailyTotals = DailyTotals(v.Transactions)

	return v, nil
}

// Threshold returns the utilisation percentage above which a card is flagged.
func (b *Builder) Threshold() float64 {
	return b.threshold
}

// ParseTimestamp accepts the timestamp layouts found in exported banking
// data. Anything else is a PARSE_ERROR.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.Parse(fmt.Sprintf("unparseable timestamp %q", raw))
}

// DailyTotals sums amounts per calendar date, ordered by date.
func DailyTotals(txns []models.DatedTransaction) []models.DailyTotal {
	sums := make(map[string]decimal.Decimal)
	for _, t := range txns {
		day := t.Timestamp.Format(dateLayout)
		sums[day] = sums[day].Add(t.Amount)
	}

	totals := make([]models.DailyTotal, 0, len(sums))
	for day, amount := range sums {
		totals = append(totals, models.DailyTotal{Date: day, Amount: amount})
	}
	slices.SortFunc(totals, func(a, b models.DailyTotal) int {
		return strings.Compare(a.Date, b.Date)
	})
	return totals
}
