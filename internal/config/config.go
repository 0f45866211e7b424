package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultCities is the closed set of supported cities. Overridable via
// CITIES for test/staging deployments, but the product surface is fixed.
var defaultCities = []string{
	"Toronto",
	"Montreal",
	"Vancouver",
	"Calgary",
	"Edmonton",
	"Ottawa",
	"Winnipeg",
	"Quebec City",
	"Hamilton",
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	Cities []string

	// Provider settings.
	ProviderAPIKey  string
	ProviderBaseURL string
	ProviderTimeout time.Duration

	// Ingestion pacing and retry policy.
	FetchDelay        time.Duration // minimum delay between provider calls
	RetryBaseDelay    time.Duration // exponential backoff base
	RetryAttempts     int           // attempts per city on transient failure
	RateLimitCooldown time.Duration // mandated wait after a 429
	IngestInterval    time.Duration // twice daily by default
	StartupDelay      time.Duration // defer for the immediate-on-start run

	// Store settings.
	StoreDriver       string // "sqlite" or "postgres"
	StoreDSN          string
	AlgorithmSeedFile string // YAML seed used when the algorithms table is empty

	// Optional Kafka sink for stored measurements.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// WHO guideline breakpoints (µg/m³), injectable so the scoring engine
	// never hard-codes them.
	PM25Guideline24h      float64
	PM25GuidelineLongTerm float64
	PM10Guideline24h      float64

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	cfg := &Config{
		Cities:          parseList(envOrDefault("CITIES", strings.Join(defaultCities, ","))),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		ProviderBaseURL: envOrDefault("PROVIDER_BASE_URL", "https://api.api-ninjas.com/v1/airquality"),

		StoreDriver:       envOrDefault("STORE_DRIVER", "sqlite"),
		StoreDSN:          envOrDefault("STORE_DSN", "file:airquality.db?_pragma=busy_timeout(5000)"),
		AlgorithmSeedFile: os.Getenv("ALGORITHM_SEED_FILE"),

		KafkaBrokers: parseList(envOrDefault("KAFKA_BROKERS", "")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "air-quality-measurements"),

		HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.ProviderTimeout, err = durationEnv("PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchDelay, err = durationEnv("FETCH_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = durationEnv("RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitCooldown, err = durationEnv("RATE_LIMIT_COOLDOWN", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.IngestInterval, err = durationEnv("INGEST_INTERVAL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StartupDelay, err = durationEnv("STARTUP_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = intEnv("RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.PM25Guideline24h, err = floatEnv("WHO_PM25_24H", 15); err != nil {
		return nil, err
	}
	if cfg.PM25GuidelineLongTerm, err = floatEnv("WHO_PM25_LONG_TERM", 10); err != nil {
		return nil, err
	}
	if cfg.PM10Guideline24h, err = floatEnv("WHO_PM10_24H", 45); err != nil {
		return nil, err
	}

	cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.KafkaEnabled = v == "true"
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if len(c.Cities) == 0 {
		return errors.New("CITIES is required")
	}
	switch c.StoreDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDSN == "" {
		return errors.New("STORE_DSN is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if c.RetryAttempts < 1 {
		return errors.New("RETRY_ATTEMPTS must be at least 1")
	}
	if c.PM25Guideline24h <= 0 || c.PM25GuidelineLongTerm <= 0 || c.PM10Guideline24h <= 0 {
		return errors.New("WHO guideline values must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}
