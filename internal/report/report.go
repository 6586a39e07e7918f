// Package report assembles the downloadable per-customer CSV: the profile,
// loan and credit-card rows stacked into one table with a section column.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"bank-dashboard/internal/models"
)

type Section string

const (
	SectionProfile     Section = "Profile"
	SectionLoans       Section = "Loans"
	SectionCreditCards Section = "Credit Cards"
)

const ContentType = "text/csv; charset=utf-8"

var (
	profileColumns    = []string{"customer_id", "total_balance", "total_loans", "credit_card_balance"}
	loanColumns       = []string{"customer_id", "loan_type", "amount", "interest_rate", "status"}
	predictionColumns = []string{"predicted_risk", "predicted_status"}
	cardColumns       = []string{"customer_id", "card_type", "balance", "credit_limit"}
	usageColumn       = "usage_percent"
	sectionColumn     = "section"
)

type Row struct {
	Section Section
	Values  map[string]string
}

// Report is the stacked table. Columns are the union of the contributing
// tables in order of first appearance; cells a row does not have are empty.
type Report struct {
	CustomerID string
	Columns    []string
	Rows       []Row
}

// Compile stacks the profile row, then the loans, then the credit cards of v.
// The profile section is always present (empty when the customer is
// unknown); loan and card sections only when they have rows. predictions,
// when it has one entry per loan, adds the predicted_risk and
// predicted_status columns to the loan rows.
//
// Source columns the dashboard does not interpret follow each table's own
// columns and come before the columns derived for the report.
func Compile(v *models.CustomerView, predictions []models.LoanPrediction) *Report {
	r := &Report{CustomerID: v.CustomerID}
	r.addColumns(profileColumns)

	if v.Profile != nil {
		reserved := append(slices.Clone(profileColumns), sectionColumn)
		values := map[string]string{
			"customer_id":         v.Profile.CustomerID,
			"total_balance":       formatNullDecimal(v.Profile.TotalBalance),
			"total_loans":         formatNullDecimal(v.Profile.TotalLoans),
			"credit_card_balance": formatNullDecimal(v.Profile.CreditCardBalance),
		}
		r.addExtra(values, v.Profile.Extra, reserved)
		r.Rows = append(r.Rows, Row{Section: SectionProfile, Values: values})
	}
	r.addColumns([]string{sectionColumn})

	if len(v.Loans) > 0 {
		r.addColumns(loanColumns)
		withPredictions := len(predictions) == len(v.Loans)
		reserved := slices.Concat(loanColumns, predictionColumns, []string{sectionColumn})
		for i, l := range v.Loans {
			values := map[string]string{
				"customer_id":   l.CustomerID,
				"loan_type":     l.LoanType,
				"amount":        l.Amount.String(),
				"interest_rate": formatFloat(l.InterestRate),
				"status":        string(l.Status),
			}
			r.addExtra(values, l.Extra, reserved)
			if withPredictions {
				values["predicted_risk"] = strconv.Itoa(predictions[i].PredictedRisk)
				values["predicted_status"] = string(predictions[i].PredictedStatus)
			}
			r.Rows = append(r.Rows, Row{Section: SectionLoans, Values: values})
		}
		if withPredictions {
			r.addColumns(predictionColumns)
		}
	}

	if len(v.CreditCards) > 0 {
		r.addColumns(cardColumns)
		reserved := slices.Concat(cardColumns, []string{usageColumn, sectionColumn})
		for _, c := range v.CreditCards {
			values := map[string]string{
				"customer_id":  c.CustomerID,
				"card_type":    c.CardType,
				"balance":      c.Balance.String(),
				"credit_limit": c.CreditLimit.String(),
				usageColumn:    "",
			}
			if c.UsagePercent != nil {
				values[usageColumn] = formatFloat(*c.UsagePercent)
			}
			r.addExtra(values, c.Extra, reserved)
			r.Rows = append(r.Rows, Row{Section: SectionCreditCards, Values: values})
		}
		r.addColumns([]string{usageColumn})
	}

	return r
}

func (r *Report) addColumns(cols []string) {
	for _, c := range cols {
		if !slices.Contains(r.Columns, c) {
			r.Columns = append(r.Columns, c)
		}
	}
}

// addExtra copies the pass-through fields into values and the column list.
// Fields named like one of the section's own columns are dropped.
func (r *Report) addExtra(values map[string]string, extra []models.Field, reserved []string) {
	for _, f := range extra {
		if slices.Contains(reserved, f.Name) {
			continue
		}
		values[f.Name] = f.Value
		r.addColumns([]string{f.Name})
	}
}

// Sections lists the section of every row in order.
func (r *Report) Sections() []Section {
	out := make([]Section, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Section
	}
	return out
}

// Records returns the rows as string slices aligned with Columns.
func (r *Report) Records() [][]string {
	records := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			if col == "section" {
				record[i] = string(row.Section)
				continue
			}
			record[i] = row.Values[col]
		}
		records = append(records, record)
	}
	return records
}

// WriteCSV writes the header and all rows as UTF-8 CSV.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(r.Records()); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

func (r *Report) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.WriteCSV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filename is the export name for customerID. Characters that are not safe
// in a file name are replaced with underscores.
func Filename(customerID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, customerID)
	return fmt.Sprintf("customer_%s_report.csv", safe)
}

// Export writes r into dir under Filename and returns the file path.
func Export(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, Filename(r.CustomerID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}

	if err := r.WriteCSV(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report file: %w", err)
	}
	return path, nil
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
