package domain

import "time"

// Config holds the complete Fraudlens configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which storage and messaging backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Model artifacts and scoring
	Models   ModelsConfig      `json:"models" yaml:"models"`
	Ensemble EnsembleOverrides `json:"ensemble" yaml:"ensemble"`
	Batch    BatchConfig       `json:"batch" yaml:"batch"`
	Features FeaturesConfig    `json:"features" yaml:"features"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	Feedback   FeedbackConfig   `json:"feedback" yaml:"feedback"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// ModelsConfig locates the fitted artifacts produced by the training pipeline.
type ModelsConfig struct {
	// Dir holds features_order.json, scaler.json, isolation_forest.json,
	// xgboost.json and model_config.json.
	Dir string `json:"dir" yaml:"dir"`

	// ClassifierURL switches the classifier to a remote model server.
	ClassifierURL     string `json:"classifierUrl" yaml:"classifierUrl"`
	ClassifierTimeout int    `json:"classifierTimeout" yaml:"classifierTimeout"` // seconds

	// Required fails startup when artifacts are missing instead of
	// serving 503 until they appear.
	Required bool `json:"required" yaml:"required"`
}

// BatchConfig bounds batch prediction.
type BatchConfig struct {
	MaxSamples int `json:"maxSamples" yaml:"maxSamples"`
	MaxWorkers int `json:"maxWorkers" yaml:"maxWorkers"`
}

// FeaturesConfig holds extra engineered feature definitions.
type FeaturesConfig struct {
	Derivations []Derivation `json:"derivations" yaml:"derivations"`
}

// Derivation defines an engineered feature as a CEL expression over raw features.
type Derivation struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
}

// FeedbackConfig configures the labeled-outcome store used for recalibration.
type FeedbackConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MinSamples int    `json:"minSamples" yaml:"minSamples"`
}

// WorkerConfig configures the async scoring worker.
type WorkerConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	TenantIDs []string `json:"tenantIds" yaml:"tenantIds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Models: ModelsConfig{
			Dir:               "./models",
			ClassifierTimeout: 5,
		},
		Batch: BatchConfig{
			MaxSamples: 10000,
			MaxWorkers: 8,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudlens.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			PredictionTTL: 10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Feedback: FeedbackConfig{
			Enabled:    true,
			Path:       "./feedback.db",
			MinSamples: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/internal/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudlens",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		PredictionTTL:  10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	return cfg
}
