// Package config loads the Fraudlens configuration.
//
// Sources are applied in order: tier defaults, the YAML file named by
// FRAUDLENS_CONFIG, then FRAUDLENS_* environment variables. A .env file in
// the working directory is loaded first when present.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, file and environment.
func Load() (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("FRAUDLENS_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path := os.Getenv("FRAUDLENS_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg. Unknown keys are
// rejected so a misspelled or retired setting is not silently ignored.
func loadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	slog.Debug("config file loaded", "path", path)
	return nil
}

func applyEnv(cfg *domain.Config) error {
	var errs []error
	stringVar := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	intVar := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	overrideVar := func(name string, dst **float64) {
		if v, ok := os.LookupEnv(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = &f
		}
	}
	boolVar := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	durationVar := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	stringVar("FRAUDLENS_HOST", &cfg.Server.Host)
	intVar("FRAUDLENS_PORT", &cfg.Server.Port)

	stringVar("FRAUDLENS_MODELS_DIR", &cfg.Models.Dir)
	stringVar("FRAUDLENS_CLASSIFIER_URL", &cfg.Models.ClassifierURL)
	boolVar("FRAUDLENS_MODELS_REQUIRED", &cfg.Models.Required)

	overrideVar("FRAUDLENS_ISO_WEIGHT", &cfg.Ensemble.IsoWeight)
	overrideVar("FRAUDLENS_XGB_WEIGHT", &cfg.Ensemble.XGBWeight)
	overrideVar("FRAUDLENS_THRESHOLD", &cfg.Ensemble.Threshold)

	intVar("FRAUDLENS_BATCH_MAX_SAMPLES", &cfg.Batch.MaxSamples)
	intVar("FRAUDLENS_BATCH_MAX_WORKERS", &cfg.Batch.MaxWorkers)

	stringVar("FRAUDLENS_DB_DRIVER", &cfg.Repository.Driver)
	stringVar("FRAUDLENS_DB_PATH", &cfg.Repository.SQLitePath)
	stringVar("FRAUDLENS_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	intVar("FRAUDLENS_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	stringVar("FRAUDLENS_POSTGRES_USER", &cfg.Repository.PostgresUser)
	stringVar("FRAUDLENS_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	stringVar("FRAUDLENS_POSTGRES_DB", &cfg.Repository.PostgresDB)
	stringVar("FRAUDLENS_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	stringVar("FRAUDLENS_CACHE_TYPE", &cfg.Cache.Type)
	stringVar("FRAUDLENS_REDIS_ADDR", &cfg.Cache.RedisAddr)
	stringVar("FRAUDLENS_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	durationVar("FRAUDLENS_PREDICTION_TTL", &cfg.Cache.PredictionTTL)

	stringVar("FRAUDLENS_BUS_TYPE", &cfg.EventBus.Type)
	stringVar("FRAUDLENS_NATS_URL", &cfg.EventBus.NATSUrl)
	stringVar("FRAUDLENS_NATS_TOKEN", &cfg.EventBus.NATSToken)

	boolVar("FRAUDLENS_FEEDBACK_ENABLED", &cfg.Feedback.Enabled)
	stringVar("FRAUDLENS_FEEDBACK_PATH", &cfg.Feedback.Path)
	intVar("FRAUDLENS_FEEDBACK_MIN_SAMPLES", &cfg.Feedback.MinSamples)

	boolVar("FRAUDLENS_ASYNC_WORKER", &cfg.Worker.Enabled)
	if v := os.Getenv("FRAUDLENS_TENANTS"); v != "" {
		cfg.Worker.TenantIDs = splitList(v)
	}

	stringVar("FRAUDLENS_LOG_LEVEL", &cfg.Logging.Level)
	stringVar("FRAUDLENS_LOG_FORMAT", &cfg.Logging.Format)
	if os.Getenv("FRAUDLENS_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	boolVar("FRAUDLENS_METRICS", &cfg.Metrics.Enabled)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks value ranges.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &domain.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("must be within 1-65535, got %d", cfg.Server.Port)}
	}
	if err := cfg.Ensemble.Validate(); err != nil {
		return err
	}
	if cfg.Batch.MaxSamples <= 0 {
		return &domain.ConfigurationError{Field: "batch.maxSamples", Reason: "must be positive"}
	}
	if cfg.Batch.MaxWorkers <= 0 {
		return &domain.ConfigurationError{Field: "batch.maxWorkers", Reason: "must be positive"}
	}
	if cfg.Models.Dir == "" {
		return &domain.ConfigurationError{Field: "models.dir", Reason: "is required"}
	}
	if cfg.Feedback.Enabled && cfg.Feedback.Path == "" {
		return &domain.ConfigurationError{Field: "feedback.path", Reason: "is required when feedback is enabled"}
	}
	if cfg.Feedback.MinSamples < 0 {
		return &domain.ConfigurationError{Field: "feedback.minSamples", Reason: "must not be negative"}
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return &domain.ConfigurationError{Field: "logging.format", Reason: "must be json or text"}
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, &domain.ConfigurationError{Field: "logging.level", Reason: fmt.Sprintf("unknown level %q", s)}
	}
	return level, nil
}

// NewLogger returns the process logger described by cfg.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
