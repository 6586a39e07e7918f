package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bank-dashboard/internal/charts"
	"bank-dashboard/internal/config"
	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/models"
	"bank-dashboard/internal/observability"
	"bank-dashboard/internal/report"
	"bank-dashboard/internal/risk"
	"bank-dashboard/internal/segment"
	"bank-dashboard/internal/view"
)

const (
	stageView    = "view"
	stageSegment = "segment"
	stageRisk    = "risk"
	stageReport  = "report"
)

// DataSource is the loaded dataset the analytics run on.
type DataSource interface {
	view.Dataset
	CustomerIDs() []string
	Version() string
	Stats() map[string]any
}

// modelCache holds fitted models for one dataset version.
type modelCache struct {
	version      string
	segmentation *models.Segmentation
	riskModel    *risk.Model
}

// Analytics runs the customer pipeline: view, segmentation, loan risk and
// report. By default both models are refitted on every call; with
// CacheModels they are fitted once per dataset version.
type Analytics struct {
	data      DataSource
	cfg       config.AnalyticsConfig
	views     *view.Builder
	segmenter *segment.Engine
	forest    *risk.Forest
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu    sync.Mutex
	cache modelCache

	requests atomic.Int64
}

func NewAnalytics(data DataSource, cfg config.AnalyticsConfig, metrics *observability.Metrics, logger *slog.Logger) *Analytics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analytics{
		data:  data,
		cfg:   cfg,
		views: view.NewBuilder(data, cfg.HighUsageThreshold),
		segmenter: segment.NewEngine(segment.Options{
			K:       cfg.Segments,
			Seed:    cfg.Seed,
			MaxIter: cfg.KMeansMaxIter,
			Tol:     cfg.KMeansTolerance,
			NInit:   cfg.KMeansInit,
		}),
		forest: risk.NewForest(risk.Options{
			Estimators: cfg.Estimators,
			Seed:       cfg.Seed,
		}),
		metrics: metrics,
		logger:  logger,
	}
}

func (a *Analytics) CustomerIDs() []string {
	return a.data.CustomerIDs()
}

// CustomerView builds the view of one customer. An unknown id returns an
// empty view, not an error.
func (a *Analytics) CustomerView(ctx context.Context, customerID string) (*models.CustomerView, error) {
	a.requests.Add(1)
	ctx, done := a.stage(ctx, stageView)
	v, err := a.views.Build(customerID)
	done(err)
	if err != nil {
		return nil, err
	}
	if !v.Found() {
		observability.LoggerFrom(ctx, a.logger).Debug("customer not found", "customer_id", customerID)
	}
	return v, nil
}

// Segments fits k-means over all customers.
func (a *Analytics) Segments(ctx context.Context) (*models.Segmentation, error) {
	version := a.data.Version()
	if seg := a.cachedSegmentation(version); seg != nil {
		return seg, nil
	}

	_, done := a.stage(ctx, stageSegment)
	seg, err := a.segmenter.SegmentAll(a.data.Profiles())
	done(err)
	if err != nil {
		return nil, err
	}

	a.storeSegmentation(version, seg)
	return seg, nil
}

// CustomerSegment returns the segment of customerID; found is false when the
// customer is not in the profile table.
func (a *Analytics) CustomerSegment(ctx context.Context, customerID string) (*models.CustomerSegment, bool, error) {
	seg, err := a.Segments(ctx)
	if err != nil {
		return nil, false, err
	}
	label, ok := seg.Label(customerID)
	if !ok {
		return nil, false, nil
	}
	return &models.CustomerSegment{CustomerID: customerID, Segment: label, K: seg.K}, true, nil
}

// RiskModel trains the loan classifier on all resolved loans.
func (a *Analytics) RiskModel(ctx context.Context) (*risk.Model, error) {
	version := a.data.Version()
	if m := a.cachedRiskModel(version); m != nil {
		return m, nil
	}

	ctx, done := a.stage(ctx, stageRisk)
	m, err := a.forest.Train(ctx, a.data.Loans())
	done(err)
	if err != nil {
		return nil, err
	}

	a.storeRiskModel(version, m)
	return m, nil
}

// LoanRisk predicts Approved/Rejected for every loan of customerID.
func (a *Analytics) LoanRisk(ctx context.Context, customerID string) (*models.LoanRisk, error) {
	v, err := a.CustomerView(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return a.loanRisk(ctx, v)
}

func (a *Analytics) loanRisk(ctx context.Context, v *models.CustomerView) (*models.LoanRisk, error) {
	m, err := a.RiskModel(ctx)
	if err != nil {
		return nil, err
	}
	return &models.LoanRisk{
		CustomerID:   v.CustomerID,
		Predictions:  m.Predict(v.Loans),
		TrainingSize: m.TrainingSize,
		Approved:     m.Approved,
		Rejected:     m.Rejected,
	}, nil
}

// Report compiles the export for customerID. When the risk model cannot be
// trained the report is produced without prediction columns.
func (a *Analytics) Report(ctx context.Context, customerID string) (*report.Report, error) {
	v, err := a.CustomerView(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var predictions []models.LoanPrediction
	if len(v.Loans) > 0 {
		if lr, err := a.loanRisk(ctx, v); err != nil {
			observability.LoggerFrom(ctx, a.logger).Warn("report without loan predictions",
				"customer_id", customerID,
				"error", err,
			)
		} else {
			predictions = lr.Predictions
		}
	}

	_, done := a.stage(ctx, stageReport)
	r := report.Compile(v, predictions)
	done(nil)
	return r, nil
}

func (a *Analytics) BalanceDistribution() *charts.ChartConfig {
	return charts.BalanceHistogram(a.data.Profiles(), a.cfg.HistogramBins)
}

func (a *Analytics) SegmentScatter(ctx context.Context) (*charts.ScatterConfig, error) {
	seg, err := a.Segments(ctx)
	if err != nil {
		return nil, err
	}
	return charts.SegmentScatter(a.data.Profiles(), seg), nil
}

// DashboardCharts are the per-customer and population charts of the page.
type DashboardCharts struct {
	BalanceDistribution  *charts.ChartConfig   `json:"balance_distribution"`
	LoanAmounts          *charts.ChartConfig   `json:"loan_amounts"`
	CardUtilization      *charts.ChartConfig   `json:"card_utilization"`
	TransactionsOverTime *charts.ChartConfig   `json:"transactions_over_time"`
	Segmentation         *charts.ScatterConfig `json:"segmentation,omitempty"`
}

// Dashboard is one full page computation. Segmentation and risk failures are
// reported in their own fields and do not hide the other sections.
type Dashboard struct {
	View         *models.CustomerView    `json:"view"`
	Segment      *models.CustomerSegment `json:"segment,omitempty"`
	SegmentError *errors.AppError        `json:"segment_error,omitempty"`
	Risk         *models.LoanRisk        `json:"risk,omitempty"`
	RiskError    *errors.AppError        `json:"risk_error,omitempty"`
	Charts       DashboardCharts         `json:"charts"`
	Threshold    float64                 `json:"high_usage_threshold"`
}

// Dashboard computes every section for customerID. Only a failure to build
// the customer view is returned as an error.
func (a *Analytics) Dashboard(ctx context.Context, customerID string) (*Dashboard, error) {
	ctx = observability.WithCustomerID(ctx, customerID)

	v, err := a.CustomerView(ctx, customerID)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		View:      v,
		Threshold: a.views.Threshold(),
		Charts: DashboardCharts{
			BalanceDistribution:  a.BalanceDistribution(),
			LoanAmounts:          charts.LoanAmounts(customerID, v.Loans),
			CardUtilization:      charts.CardUtilization(customerID, v.CreditCards),
			TransactionsOverTime: charts.TransactionsOverTime(customerID, v.DailyTotals),
		},
	}

	if seg, err := a.Segments(ctx); err != nil {
		d.SegmentError = asAppError(err)
	} else {
		d.Charts.Segmentation = charts.SegmentScatter(a.data.Profiles(), seg)
		if label, ok := seg.Label(customerID); ok {
			d.Segment = &models.CustomerSegment{CustomerID: customerID, Segment: label, K: seg.K}
		}
	}

	if lr, err := a.loanRisk(ctx, v); err != nil {
		d.RiskError = asAppError(err)
	} else {
		d.Risk = lr
	}

	return d, nil
}

// stage opens a span for an analytics stage and returns the function that
// closes it, records its duration and logs failures.
func (a *Analytics) stage(ctx context.Context, name string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "analytics."+name)
	logger := observability.LoggerFrom(ctx, a.logger)

	return ctx, func(err error) {
		code := ""
		if err != nil {
			code = string(errors.CodeOf(err))
			span.SetError(err)
			logger.Warn("analytics stage failed", "stage", name, "error", err)
		}
		span.SetTag("stage", name)
		span.FinishAndLog(ctx, logger)
		a.metrics.ObserveStage(name, time.Since(start), code)
	}
}

func (a *Analytics) cachedSegmentation(version string) *models.Segmentation {
	if !a.cfg.CacheModels {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache.version != version {
		return nil
	}
	return a.cache.segmentation
}

func (a *Analytics) storeSegmentation(version string, seg *models.Segmentation) {
	if !a.cfg.CacheModels {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache.version != version {
		a.cache = modelCache{version: version}
	}
	a.cache.segmentation = seg
}

func (a *Analytics) cachedRiskModel(version string) *risk.Model {
	if !a.cfg.CacheModels {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache.version != version {
		return nil
	}
	return a.cache.riskModel
}

func (a *Analytics) storeRiskModel(version string, m *risk.Model) {
	if !a.cfg.CacheModels {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache.version != version {
		a.cache = modelCache{version: version}
	}
	a.cache.riskModel = m
}

// Stats reports dataset and engine counters for monitoring.
func (a *Analytics) Stats() map[string]any {
	stats := a.data.Stats()
	stats["requests"] = a.requests.Load()
	stats["segments"] = a.cfg.Segments
	stats["estimators"] = a.cfg.Estimators
	stats["cache_models"] = a.cfg.CacheModels

	a.mu.Lock()
	stats["cached_version"] = a.cache.version
	a.mu.Unlock()

	return stats
}

func asAppError(err error) *errors.AppError {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return errors.InternalWrap(err, "analytics failed")
}
