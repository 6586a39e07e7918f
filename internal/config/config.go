package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server    ServerConfig
	Data      DataConfig
	Analytics AnalyticsConfig
	Export    ExportConfig
	Logger    LoggerConfig
	Security  SecurityConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DataConfig locates the four source tables. File names are relative to Dir
// unless absolute.
type DataConfig struct {
	Dir              string
	ProfilesFile     string
	TransactionsFile string
	LoansFile        string
	CreditCardsFile  string
}

func (d DataConfig) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

type AnalyticsConfig struct {
	Segments           int
	Seed               int64
	KMeansMaxIter      int
	KMeansTolerance    float64
	KMeansInit         int
	Estimators         int
	HighUsageThreshold float64
	HistogramBins      int
	CacheModels        bool
}

type ExportConfig struct {
	Dir string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type SecurityConfig struct {
	EnableRateLimit bool
	RateLimitRPS    int
	RateLimitBurst  int
	AllowedOrigins  []string
	TrustedProxies  []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "localhost"),
			Port:            getEnvInt("SERVER_PORT", 8084),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Data: DataConfig{
			Dir:              getEnvString("DATA_DIR", "data"),
			ProfilesFile:     getEnvString("DATA_PROFILES_FILE", "customer_profiles.csv"),
			TransactionsFile: getEnvString("DATA_TRANSACTIONS_FILE", "clean_transactions.csv"),
			LoansFile:        getEnvString("DATA_LOANS_FILE", "clean_loans.csv"),
			CreditCardsFile:  getEnvString("DATA_CREDIT_CARDS_FILE", "clean_credit_cards.csv"),
		},
		Analytics: AnalyticsConfig{
			Segments:           getEnvInt("ANALYTICS_SEGMENTS", 4),
			Seed:               int64(getEnvInt("ANALYTICS_SEED", 42)),
			KMeansMaxIter:      getEnvInt("ANALYTICS_KMEANS_MAX_ITER", 300),
			KMeansTolerance:    getEnvFloat("ANALYTICS_KMEANS_TOLERANCE", 1e-4),
			KMeansInit:         getEnvInt("ANALYTICS_KMEANS_N_INIT", 1),
			Estimators:         getEnvInt("ANALYTICS_ESTIMATORS", 100),
			HighUsageThreshold: getEnvFloat("ANALYTICS_HIGH_USAGE_THRESHOLD", 80),
			HistogramBins:      getEnvInt("ANALYTICS_HISTOGRAM_BINS", 50),
			CacheModels:        getEnvBool("ANALYTICS_CACHE_MODELS", false),
		},
		Export: ExportConfig{
			Dir: getEnvString("EXPORT_DIR", "."),
		},
		Logger: LoggerConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			EnableRateLimit: getEnvBool("SECURITY_RATE_LIMIT_ENABLED", true),
			RateLimitRPS:    getEnvInt("SECURITY_RATE_LIMIT_RPS", 100),
			RateLimitBurst:  getEnvInt("SECURITY_RATE_LIMIT_BURST", 10),
			AllowedOrigins:  getEnvStringSlice("SECURITY_ALLOWED_ORIGINS", []string{"http://localhost:8084"}),
			TrustedProxies:  getEnvStringSlice("SECURITY_TRUSTED_PROXIES", []string{"127.0.0.1"}),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Data.Dir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	for name, file := range map[string]string{
		"profiles":     c.Data.ProfilesFile,
		"transactions": c.Data.TransactionsFile,
		"loans":        c.Data.LoansFile,
		"credit cards": c.Data.CreditCardsFile,
	} {
		if file == "" {
			return fmt.Errorf("%s file path cannot be empty", name)
		}
	}

	if err := c.Analytics.Validate(); err != nil {
		return err
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Security.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}

	return nil
}

// Validate checks the model settings. At least two segments are required
// for segmentation to say anything about a customer.
func (a AnalyticsConfig) Validate() error {
	if a.Segments < 2 {
		return fmt.Errorf("segment count must be at least 2, got %d", a.Segments)
	}

	if a.KMeansMaxIter <= 0 {
		return fmt.Errorf("k-means max iterations must be positive")
	}

	if a.KMeansTolerance < 0 {
		return fmt.Errorf("k-means tolerance cannot be negative")
	}

	if a.KMeansInit <= 0 {
		return fmt.Errorf("k-means init count must be positive")
	}

	if a.Estimators <= 0 {
		return fmt.Errorf("estimator count must be positive, got %d", a.Estimators)
	}

	if a.HighUsageThreshold <= 0 || a.HighUsageThreshold > 100 {
		return fmt.Errorf("high usage threshold must be in (0, 100], got %g", a.HighUsageThreshold)
	}

	if a.HistogramBins <= 0 {
		return fmt.Errorf("histogram bins must be positive")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
