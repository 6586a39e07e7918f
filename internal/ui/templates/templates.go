// Package templates renders the dashboard page and the fragments patched
// into it over SSE.
package templates

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/a-h/templ"
	"github.com/shopspring/decimal"

	"bank-dashboard/internal/services"
)

//go:embed html/*.html
var files embed.FS

var tmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"money":     formatMoney,
	"nullMoney": formatNullMoney,
	"pct":       formatPercent,
	"prob":      func(p float64) string { return fmt.Sprintf("%.0f%%", p*100) },
	"json":      toJSON,
}).ParseFS(files, "html/*.html"))

// Page is the data of the full dashboard page.
type Page struct {
	Title       string
	Subtitle    string
	CustomerIDs []string
	Selected    string
	Dashboard   *services.Dashboard
}

func Dashboard(page Page) templ.Component {
	return component("page", page)
}

// Profile, Loans, Cards and Segment render the customer panels. Each
// fragment's root element carries a stable id so it can replace the panel
// already on the page.
func Profile(d *services.Dashboard) templ.Component {
	return component("profile", d)
}

func Loans(d *services.Dashboard) templ.Component {
	return component("loans", d)
}

func Cards(d *services.Dashboard) templ.Component {
	return component("cards", d)
}

func Segment(d *services.Dashboard) templ.Component {
	return component("segment", d)
}

func ChartData(d *services.Dashboard) templ.Component {
	return component("chart-data", d)
}

func component(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return tmpl.ExecuteTemplate(w, name, data)
	})
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatNullMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return "n/a"
	}
	return d.Decimal.StringFixed(2)
}

func formatPercent(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func toJSON(v any) (template.JS, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return template.JS(b), nil
}
