// Command report writes the CSV report of one customer, including the loan
// risk predictions, to customer_<id>_report.csv.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"bank-dashboard/internal/config"
	"bank-dashboard/internal/observability"
	"bank-dashboard/internal/report"
	"bank-dashboard/internal/services"
	"bank-dashboard/internal/store"
)

const runTimeout = 2 * time.Minute

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "report:", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	customerID := fs.String("customer", "", "customer id to report on")
	outDir := fs.String("out", cfg.Export.Dir, "directory the report is written to")
	dataDir := fs.String("data", cfg.Data.Dir, "directory holding the source CSV files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *customerID == "" {
		fs.Usage()
		return fmt.Errorf("-customer is required")
	}
	cfg.Data.Dir = *dataDir

	logger := observability.NewLoggerTo(stderr, cfg.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	ctx = observability.WithCustomerID(ctx, *customerID)

	path, err := export(ctx, cfg, *customerID, *outDir, logger)
	if err != nil {
		return err
	}

	observability.LoggerFrom(ctx, logger).Info("report written", "path", path)
	return nil
}

func export(ctx context.Context, cfg *config.Config, customerID, outDir string, logger *slog.Logger) (string, error) {
	data := store.New(cfg.Data, logger, nil)
	if err := data.Load(ctx); err != nil {
		return "", err
	}

	analytics := services.NewAnalytics(data, cfg.Analytics, nil, logger)
	r, err := analytics.Report(ctx, customerID)
	if err != nil {
		return "", err
	}
	if len(r.Rows) == 0 {
		logger.Warn("customer not found, writing empty report", "customer_id", customerID)
	}

	return report.Export(outDir, r)
}
