package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"bank-dashboard/internal/config"
	"bank-dashboard/internal/middleware"
	"bank-dashboard/internal/observability"
	"bank-dashboard/internal/server"
	"bank-dashboard/internal/services"
	"bank-dashboard/internal/store"
	"bank-dashboard/internal/ui/templates"
)

const (
	renderTimeout = 30 * time.Second
	loadTimeout   = 30 * time.Second

	pageTitle    = "Banking Analytics & ML Dashboard"
	pageSubtitle = "Interactive dashboard combining customer insights, financial metrics, and ML predictions"
)

// dashboardHandler renders the full page for the customer named by the
// customer query parameter, or the first known customer.
func dashboardHandler(analytics *services.Analytics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
		defer cancel()

		ids := analytics.CustomerIDs()
		page := templates.Page{
			Title:       pageTitle,
			Subtitle:    pageSubtitle,
			CustomerIDs: ids,
			Selected:    r.URL.Query().Get("customer"),
		}
		if page.Selected == "" && len(ids) > 0 {
			page.Selected = ids[0]
		}

		if page.Selected != "" {
			d, err := analytics.Dashboard(ctx, page.Selected)
			if err != nil {
				observability.LoggerFrom(ctx, logger).Error("compute dashboard",
					"customer_id", page.Selected,
					"error", err,
				)
				http.Error(w, "dashboard error", http.StatusInternalServerError)
				return
			}
			page.Dashboard = d
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.Dashboard(page).Render(ctx, w); err != nil {
			logger.Error("render dashboard", "error", err)
			http.Error(w, "render error", http.StatusInternalServerError)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", "1.0.0",
		"data_dir", cfg.Data.Dir,
		"segments", cfg.Analytics.Segments,
		"estimators", cfg.Analytics.Estimators,
	)

	metrics := observability.NewMetrics()
	data := store.New(cfg.Data, logger, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	start := time.Now()
	if err := data.Load(ctx); err != nil {
		logger.Error("failed to load customer data", "error", err)
		os.Exit(1)
	}
	logger.Info("customer data loaded", "duration", time.Since(start), "version", data.Version())

	analytics := services.NewAnalytics(data, cfg.Analytics, metrics, logger)

	templateHandlers := &server.TemplateHandlers{
		Dashboard: dashboardHandler(analytics, logger),
	}

	srv := server.NewServer(analytics, metrics, logger, templateHandlers)

	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(logger),
		middleware.Metrics(metrics),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
	)

	handler := middlewareChain(srv)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	gracefulServer.RegisterReloadHook(func(ctx context.Context) error {
		previous := data.Version()
		if err := data.Load(ctx); err != nil {
			return err
		}
		logger.Info("customer data reloaded",
			"previous_version", previous,
			"version", data.Version(),
		)
		return nil
	})

	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		logger.Info("shutting down analytics service", "stats", analytics.Stats())
		return nil
	})

	logger.Info("starting graceful server")
	if err := gracefulServer.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
