// Package domain defines the core interfaces and types for Fraudlens.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Prediction records
	SavePrediction(ctx context.Context, tenantID string, p *Prediction) error
	GetPrediction(ctx context.Context, tenantID string, predictionID string) (*Prediction, error)
	ListPredictions(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Prediction, error)

	// Ensemble config history
	SaveEnsembleConfig(ctx context.Context, tenantID string, cfg *EnsembleConfig) error
	GetActiveEnsembleConfig(ctx context.Context, tenantID string) (*EnsembleConfig, error)
	ListEnsembleConfigs(ctx context.Context, tenantID string, limit int) ([]*EnsembleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
