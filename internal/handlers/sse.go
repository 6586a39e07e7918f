package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"
	"github.com/starfederation/datastar-go/datastar"

	"bank-dashboard/internal/services"
	"bank-dashboard/internal/ui/templates"
)

type SSEHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
}

func NewSSEHandlers(analytics *services.Analytics, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		analytics: analytics,
		logger:    logger,
	}
}

type customerSignals struct {
	CustomerID string `json:"customerId"`
}

// customerID reads the customerId signal, falling back to the customer
// query parameter for plain links.
func (h *SSEHandlers) customerID(r *http.Request) string {
	var signals customerSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		h.logger.Debug("read signals", "error", err)
	}
	if signals.CustomerID != "" {
		return signals.CustomerID
	}
	return r.URL.Query().Get("customer")
}

func renderFragment(ctx context.Context, c templ.Component) (string, error) {
	var buf strings.Builder
	if err := c.Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HandleCustomer recomputes the dashboard for the selected customer and
// patches every customer panel plus the chart data.
func (h *SSEHandlers) HandleCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := h.customerID(r)
	sse := datastar.NewSSE(w, r)

	d, err := h.analytics.Dashboard(r.Context(), customerID)
	if err != nil {
		h.logger.Error("compute dashboard", "customer_id", customerID, "error", err)
		sse.PatchElements(`<section id="profile"><p class="alert-error">` +
			templ.EscapeString(err.Error()) + `</p></section>`)
		return
	}

	fragments := []templ.Component{
		templates.Profile(d),
		templates.Segment(d),
		templates.Loans(d),
		templates.Cards(d),
		templates.ChartData(d),
	}
	for _, c := range fragments {
		html, err := renderFragment(r.Context(), c)
		if err != nil {
			h.logger.Error("render fragment", "customer_id", customerID, "error", err)
			return
		}
		if err := sse.PatchElements(html); err != nil {
			h.logger.Warn("patch elements", "customer_id", customerID, "error", err)
			return
		}
	}

	reportLink := `<a id="report-link" href="/api/customers/` + templ.EscapeString(url.PathEscape(customerID)) +
		`/report.csv">Download Customer Report as CSV</a>`
	if err := sse.PatchElements(reportLink); err != nil {
		h.logger.Warn("patch elements", "customer_id", customerID, "error", err)
		return
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleBalanceDistribution sends the population balance histogram as the
// balanceData signal.
func (h *SSEHandlers) HandleBalanceDistribution(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	if err := sse.MarshalAndPatchSignals(map[string]any{
		"balanceData": h.analytics.BalanceDistribution(),
	}); err != nil {
		h.logger.Error("patch balance signals", "error", err)
		return
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
