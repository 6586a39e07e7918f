// Package charts turns analytics results into render-ready chart payloads
// for the dashboard front end.
package charts

import (
	"fmt"
	"math"

	"bank-dashboard/internal/models"
)

var defaultColors = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

type ChartConfig struct {
	ChartType  string        `json:"chartType"`
	Title      string        `json:"title"`
	XAxis      string        `json:"xAxis,omitempty"`
	YAxis      string        `json:"yAxis,omitempty"`
	Series     []ChartSeries `json:"series"`
	Colors     []string      `json:"colors,omitempty"`
	ShowLegend bool          `json:"showLegend"`
}

type ChartSeries struct {
	Name string       `json:"name"`
	Data []ChartPoint `json:"data"`
}

type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type ScatterPoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Segment int     `json:"segment"`
	Label   string  `json:"label"`
}

type ScatterConfig struct {
	Title  string         `json:"title"`
	XAxis  string         `json:"xAxis"`
	YAxis  string         `json:"yAxis"`
	Points []ScatterPoint `json:"points"`
	Colors []string       `json:"colors"`
}

// BalanceHistogram buckets total_balance of every customer with a value into
// bins equal-width bins. Customers with a missing balance are left out.
func BalanceHistogram(profiles []models.CustomerProfile, bins int) *ChartConfig {
	cfg := &ChartConfig{
		ChartType: "histogram",
		Title:     "Distribution of Total Customer Balances",
		XAxis:     "total_balance",
		YAxis:     "count",
		Colors:    assignColors(1),
	}
	if bins <= 0 {
		bins = 1
	}

	values := make([]float64, 0, len(profiles))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range profiles {
		if !p.TotalBalance.Valid {
			continue
		}
		v := p.TotalBalance.Decimal.InexactFloat64()
		values = append(values, v)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	series := ChartSeries{Name: "customers", Data: []ChartPoint{}}
	if len(values) == 0 {
		cfg.Series = []ChartSeries{series}
		return cfg
	}

	width := (hi - lo) / float64(bins)
	if width == 0 {
		bins, width = 1, 1
	}
	counts := make([]int, bins)
	for _, v := range values {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}
	for i, c := range counts {
		start := lo + float64(i)*width
		series.Data = append(series.Data, ChartPoint{
			Label: fmt.Sprintf("%.2f-%.2f", start, start+width),
			Value: float64(c),
		})
	}
	cfg.Series = []ChartSeries{series}
	return cfg
}

// LoanAmounts plots each loan amount, one series per loan type in order of
// first appearance.
func LoanAmounts(customerID string, loans []models.Loan) *ChartConfig {
	cfg := &ChartConfig{
		ChartType:  "bar",
		Title:      fmt.Sprintf("Loans for Customer %s", customerID),
		XAxis:      "loan",
		YAxis:      "amount",
		Series:     []ChartSeries{},
		ShowLegend: true,
	}

	index := make(map[string]int)
	for i, l := range loans {
		s, ok := index[l.LoanType]
		if !ok {
			s = len(cfg.Series)
			index[l.LoanType] = s
			cfg.Series = append(cfg.Series, ChartSeries{Name: l.LoanType})
		}
		cfg.Series[s].Data = append(cfg.Series[s].Data, ChartPoint{
			Label: fmt.Sprintf("Loan %d", i+1),
			Value: roundTo2(l.Amount.InexactFloat64()),
		})
	}
	cfg.Colors = assignColors(len(cfg.Series))
	return cfg
}

// CardUtilization plots usage percent per card. Cards without a usage
// percent (zero limit) are skipped.
func CardUtilization(customerID string, cards []models.CreditCard) *ChartConfig {
	series := ChartSeries{Name: "usage_percent", Data: []ChartPoint{}}
	for _, c := range cards {
		if c.UsagePercent == nil {
			continue
		}
		series.Data = append(series.Data, ChartPoint{Label: c.CardType, Value: roundTo2(*c.UsagePercent)})
	}
	return &ChartConfig{
		ChartType: "bar",
		Title:     fmt.Sprintf("Credit Card Utilization (%%) for Customer %s", customerID),
		XAxis:     "card_type",
		YAxis:     "usage_percent",
		Series:    []ChartSeries{series},
		Colors:    assignColors(1),
	}
}

func TransactionsOverTime(customerID string, totals []models.DailyTotal) *ChartConfig {
	series := ChartSeries{Name: "amount", Data: make([]ChartPoint, 0, len(totals))}
	for _, t := range totals {
		series.Data = append(series.Data, ChartPoint{Label: t.Date, Value: roundTo2(t.Amount.InexactFloat64())})
	}
	return &ChartConfig{
		ChartType: "line",
		Title:     fmt.Sprintf("Transactions Over Time for Customer %s", customerID),
		XAxis:     "date",
		YAxis:     "amount",
		Series:    []ChartSeries{series},
		Colors:    assignColors(1),
	}
}

// SegmentScatter plots total_balance against total_loans for every segmented
// customer, coloured by segment.
func SegmentScatter(profiles []models.CustomerProfile, seg *models.Segmentation) *ScatterConfig {
	cfg := &ScatterConfig{
		Title:  "Customer Segmentation (All Customers)",
		XAxis:  "total_balance",
		YAxis:  "total_loans",
		Points: make([]ScatterPoint, 0, len(profiles)),
	}
	if seg == nil {
		return cfg
	}
	for _, p := range profiles {
		label, ok := seg.Label(p.CustomerID)
		if !ok {
			continue
		}
		f := p.Features()
		cfg.Points = append(cfg.Points, ScatterPoint{X: f[0], Y: f[1], Segment: label, Label: p.CustomerID})
	}
	cfg.Colors = assignColors(seg.K)
	return cfg
}

func assignColors(n int) []string {
	colors := make([]string, n)
	for i := range colors {
		colors[i] = defaultColors[i%len(defaultColors)]
	}
	return colors
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
