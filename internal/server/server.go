package server

import (
	"log/slog"
	"net/http"

	"bank-dashboard/internal/handlers"
	"bank-dashboard/internal/observability"
	"bank-dashboard/internal/services"
)

type Server struct {
	analytics   *services.Analytics
	mux         *http.ServeMux
	logger      *slog.Logger
	metrics     *observability.Metrics
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(analytics *services.Analytics, metrics *observability.Metrics, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		analytics:   analytics,
		mux:         http.NewServeMux(),
		logger:      logger,
		metrics:     metrics,
		apiHandlers: handlers.NewAPIHandlers(analytics, logger),
		sseHandlers: handlers.NewSSEHandlers(analytics, logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard routes
	s.mux.HandleFunc("GET /{$}", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// REST API endpoints
	s.mux.HandleFunc("GET /api/customers", s.apiHandlers.HandleCustomers)
	s.mux.HandleFunc("GET /api/customers/{id}", s.apiHandlers.HandleCustomerView)
	s.mux.HandleFunc("GET /api/customers/{id}/dashboard", s.apiHandlers.HandleDashboard)
	s.mux.HandleFunc("GET /api/customers/{id}/segment", s.apiHandlers.HandleCustomerSegment)
	s.mux.HandleFunc("GET /api/customers/{id}/risk", s.apiHandlers.HandleCustomerRisk)
	s.mux.HandleFunc("GET /api/customers/{id}/report.csv", s.apiHandlers.HandleReport)
	s.mux.HandleFunc("GET /api/segments", s.apiHandlers.HandleSegments)
	s.mux.HandleFunc("GET /api/charts/balance-distribution", s.apiHandlers.HandleBalanceDistribution)
	s.mux.HandleFunc("GET /api/charts/segments", s.apiHandlers.HandleSegmentScatter)

	// Datastar SSE endpoints
	s.mux.HandleFunc("GET /sse/customer", s.sseHandlers.HandleCustomer)
	s.mux.HandleFunc("GET /sse/balance-distribution", s.sseHandlers.HandleBalanceDistribution)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
