package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Data.Dir)
	assert.Equal(t, "customer_profiles.csv", cfg.Data.ProfilesFile)
	assert.Equal(t, "clean_transactions.csv", cfg.Data.TransactionsFile)
	assert.Equal(t, "clean_loans.csv", cfg.Data.LoansFile)
	assert.Equal(t, "clean_credit_cards.csv", cfg.Data.CreditCardsFile)

	assert.Equal(t, AnalyticsConfig{
		Segments:           4,
		Seed:               42,
		KMeansMaxIter:      300,
		KMeansTolerance:    1e-4,
		KMeansInit:         1,
		Estimators:         100,
		HighUsageThreshold: 80,
		HistogramBins:      50,
		CacheModels:        false,
	}, cfg.Analytics)

	assert.Equal(t, SecurityConfig{
		EnableRateLimit: true,
		RateLimitRPS:    100,
		RateLimitBurst:  10,
		AllowedOrigins:  []string{"http://localhost:8084"},
		TrustedProxies:  []string{"127.0.0.1"},
	}, cfg.Security)

	assert.Equal(t, ".", cfg.Export.Dir)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "localhost:8084", cfg.Address())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/bank")
	t.Setenv("DATA_LOANS_FILE", "loans.csv")
	t.Setenv("ANALYTICS_SEGMENTS", "6")
	t.Setenv("ANALYTICS_HIGH_USAGE_THRESHOLD", "75.5")
	t.Setenv("ANALYTICS_CACHE_MODELS", "true")
	t.Setenv("EXPORT_DIR", "/tmp/reports")
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/bank", cfg.Data.Dir)
	assert.Equal(t, filepath.Join("/srv/bank", "loans.csv"), cfg.Data.Path(cfg.Data.LoansFile))
	assert.Equal(t, 6, cfg.Analytics.Segments)
	assert.Equal(t, 75.5, cfg.Analytics.HighUsageThreshold)
	assert.True(t, cfg.Analytics.CacheModels)
	assert.Equal(t, "/tmp/reports", cfg.Export.Dir)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoad_UnparseableFallsBack(t *testing.T) {
	t.Setenv("ANALYTICS_ESTIMATORS", "lots")
	t.Setenv("ANALYTICS_KMEANS_TOLERANCE", "tiny")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Analytics.Estimators)
	assert.Equal(t, 1e-4, cfg.Analytics.KMeansTolerance)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SERVER_PORT", "70000"},
		{"ANALYTICS_SEGMENTS", "1"},
		{"ANALYTICS_ESTIMATORS", "0"},
		{"ANALYTICS_HIGH_USAGE_THRESHOLD", "120"},
		{"ANALYTICS_HISTOGRAM_BINS", "-1"},
		{"LOG_LEVEL", "loud"},
		{"LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDataConfig_Path(t *testing.T) {
	d := DataConfig{Dir: "data"}
	assert.Equal(t, filepath.Join("data", "loans.csv"), d.Path("loans.csv"))
	assert.Equal(t, "/abs/loans.csv", d.Path("/abs/loans.csv"))
}

func TestAnalyticsConfig_Validate(t *testing.T) {
	valid := AnalyticsConfig{
		Segments: 4, KMeansMaxIter: 300, KMeansTolerance: 1e-4, KMeansInit: 1,
		Estimators: 100, HighUsageThreshold: 80, HistogramBins: 50,
	}
	require.NoError(t, valid.Validate())

	tol := valid
	tol.KMeansTolerance = -1
	assert.Error(t, tol.Validate())

	full := valid
	full.HighUsageThreshold = 100
	assert.NoError(t, full.Validate())
}
