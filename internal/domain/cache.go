package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetPrediction retrieves a cached prediction result.
	GetPrediction(ctx context.Context, tenantID string, key string) (*PredictionResult, error)

	// SetPrediction caches a prediction result keyed by input fingerprint.
	SetPrediction(ctx context.Context, tenantID string, key string, result *PredictionResult, ttl time.Duration) error

	// GetPredictions looks up many fingerprints at once. The result is
	// aligned with keys and holds nil for every miss.
	GetPredictions(ctx context.Context, tenantID string, keys []string) ([]*PredictionResult, error)

	// SetPredictions caches several results in one round trip.
	SetPredictions(ctx context.Context, tenantID string, results map[string]*PredictionResult, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"localTtl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"-" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"` // If true, check local first, then Redis

	// PredictionTTL bounds how long a scored vector is reused.
	PredictionTTL time.Duration `json:"predictionTtl" yaml:"predictionTtl"`
}
