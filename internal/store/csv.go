package store

import (
	"bytes"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var errNotFinite = stderrors.New("value is not finite")

// table is a parsed CSV file addressed by normalised column name.
type table struct {
	name    string
	columns map[string]int
	rows    [][]string
	// lines[i] is the 1-based source line of rows[i].
	lines []int
	// extras are the columns not in the required set, in file order.
	extras []string
}

func parseTable(name string, data []byte, required []string) (*table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Load(fmt.Sprintf("%s: file is empty", name))
	}
	if err != nil {
		return nil, errors.LoadWrap(err, fmt.Sprintf("%s: read header", name))
	}

	t := &table{
		name:    name,
		columns: make(map[string]int, len(header)),
	}
	for i, h := range header {
		key := normalizeColumn(h)
		if _, dup := t.columns[key]; dup {
			continue
		}
		t.columns[key] = i
		if key != "" && !slices.Contains(required, key) {
			t.extras = append(t.extras, key)
		}
	}

	var missing []string
	for _, col := range required {
		if _, ok := t.columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Load(fmt.Sprintf("%s: missing required columns: %s", name, strings.Join(missing, ", ")))
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.LoadWrap(err, fmt.Sprintf("%s: malformed row", name))
		}
		line, _ := reader.FieldPos(0)
		t.rows = append(t.rows, record)
		t.lines = append(t.lines, line)
	}

	return t, nil
}

func (t *table) value(row int, column string) string {
	return strings.TrimSpace(t.rows[row][t.columns[column]])
}

// extra returns the row's cells in the columns listed in t.extras.
func (t *table) extra(row int) []models.Field {
	if len(t.extras) == 0 {
		return nil
	}
	fields := make([]models.Field, len(t.extras))
	for i, col := range t.extras {
		fields[i] = models.Field{Name: col, Value: t.value(row, col)}
	}
	return fields
}

func (t *table) decimal(row int, column string) (decimal.Decimal, error) {
	raw := t.value(row, column)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, t.cellError(row, column, raw, err)
	}
	return d, nil
}

// nullDecimal treats an empty cell (or a pandas-style NaN) as a missing value.
func (t *table) nullDecimal(row int, column string) (decimal.NullDecimal, error) {
	raw := t.value(row, column)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, t.cellError(row, column, raw, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func (t *table) float(row int, column string) (float64, error) {
	raw := t.value(row, column)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, t.cellError(row, column, raw, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, t.cellError(row, column, raw, errNotFinite)
	}
	return f, nil
}

func (t *table) cellError(row int, column, raw string, cause error) error {
	return errors.LoadWrap(
		errors.ParseWrap(cause, fmt.Sprintf("invalid number %q", raw)),
		fmt.Sprintf("%s: line %d: column %s", t.name, t.lines[row], column),
	)
}

// normalizeColumn converts "Credit Limit" to "credit_limit".
func normalizeColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
