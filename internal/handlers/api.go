package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/observability"
	"bank-dashboard/internal/report"
	"bank-dashboard/internal/services"
)

const cacheControl = "public, max-age=300"

type APIHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
}

func NewAPIHandlers(analytics *services.Analytics, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		analytics: analytics,
		logger:    logger,
	}
}

func (h *APIHandlers) HandleCustomers(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccessWithHeaders(w, h.analytics.CustomerIDs(), map[string]string{
		"Cache-Control": cacheControl,
	})
}

// HandleCustomerView returns the customer's view. Unknown ids get an empty
// view with a null profile.
func (h *APIHandlers) HandleCustomerView(w http.ResponseWriter, r *http.Request) {
	v, err := h.analytics.CustomerView(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	errors.WriteSuccess(w, v)
}

func (h *APIHandlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.analytics.Dashboard(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	errors.WriteSuccess(w, d)
}

// HandleCustomerSegment returns null data for a customer that has no profile.
func (h *APIHandlers) HandleCustomerSegment(w http.ResponseWriter, r *http.Request) {
	seg, found, err := h.analytics.CustomerSegment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		errors.WriteSuccess(w, nil)
		return
	}
	errors.WriteSuccess(w, seg)
}

func (h *APIHandlers) HandleSegments(w http.ResponseWriter, r *http.Request) {
	seg, err := h.analytics.Segments(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	errors.WriteSuccess(w, seg)
}

func (h *APIHandlers) HandleSegmentScatter(w http.ResponseWriter, r *http.Request) {
	scatter, err := h.analytics.SegmentScatter(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	errors.WriteSuccess(w, scatter)
}

func (h *APIHandlers) HandleCustomerRisk(w http.ResponseWriter, r *http.Request) {
	lr, err := h.analytics.LoanRisk(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	errors.WriteSuccess(w, lr)
}

// HandleReport streams the customer's CSV report as an attachment.
func (h *APIHandlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("id")

	rep, err := h.analytics.Report(r.Context(), customerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body, err := rep.Bytes()
	if err != nil {
		h.writeError(w, r, errors.InternalWrap(err, "failed to encode report"))
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(customerID)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("write report", "customer_id", customerID, "error", err)
	}
}

func (h *APIHandlers) HandleBalanceDistribution(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccessWithHeaders(w, h.analytics.BalanceDistribution(), map[string]string{
		"Cache-Control": cacheControl,
	})
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {

	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {

	stats := h.analytics.Stats()

	errors.WriteSuccess(w, stats)
}

func (h *APIHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
}
