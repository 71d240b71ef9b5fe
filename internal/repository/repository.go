// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// defaultListLimit caps list queries when the caller passes no limit.
const defaultListLimit = 100

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SavePrediction stores a scored request with tenant isolation.
func (r *SQLRepository) SavePrediction(ctx context.Context, tenantID string, p *domain.Prediction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: prediction id is required", ErrInvalidInput)
	}

	result, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("failed to encode prediction result: %w", err)
	}
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	query := `
		INSERT INTO predictions (
			id, tenant_id, request_id, prediction, hybrid_score,
			threshold_used, config_version, result, features, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.RequestID,
		p.Result.Prediction, p.Result.HybridScore,
		p.Result.ThresholdUsed, p.Result.ConfigVersion,
		string(result), string(features), p.CreatedAt,
	)
	return err
}

// GetPrediction retrieves a prediction by ID with tenant isolation.
func (r *SQLRepository) GetPrediction(ctx context.Context, tenantID string, predictionID string) (*domain.Prediction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, request_id, result, features, created_at
		FROM predictions
		WHERE tenant_id = ? AND id = ?
	`

	p, err := scanPrediction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, predictionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPredictions returns a tenant's predictions created at or after since,
// newest first.
func (r *SQLRepository) ListPredictions(ctx context.Context, tenantID string, since time.Time, limit int) ([]*domain.Prediction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, tenant_id, request_id, result, features, created_at
		FROM predictions
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*domain.Prediction, error) {
	var p domain.Prediction
	var requestID sql.NullString
	var result string
	var features sql.NullString

	if err := row.Scan(&p.ID, &p.TenantID, &requestID, &result, &features, &p.CreatedAt); err != nil {
		return nil, err
	}

	p.RequestID = requestID.String
	if err := json.Unmarshal([]byte(result), &p.Result); err != nil {
		return nil, fmt.Errorf("failed to parse prediction result for %s: %w", p.ID, err)
	}
	if features.Valid && features.String != "" && features.String != "null" {
		if err := json.Unmarshal([]byte(features.String), &p.Features); err != nil {
			return nil, fmt.Errorf("failed to parse features for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// SaveEnsembleConfig stores an ensemble config version. Saving the same
// version again overwrites it.
func (r *SQLRepository) SaveEnsembleConfig(ctx context.Context, tenantID string, cfg *domain.EnsembleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if cfg == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidInput)
	}

	metrics, _ := json.Marshal(cfg.Metrics)

	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ensemble_configs (
			tenant_id, version, iso_weight, xgb_weight, threshold,
			f1_score, precision_score, recall_score, metrics, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, version) DO UPDATE SET
			iso_weight = excluded.iso_weight,
			xgb_weight = excluded.xgb_weight,
			threshold = excluded.threshold,
			f1_score = excluded.f1_score,
			precision_score = excluded.precision_score,
			recall_score = excluded.recall_score,
			metrics = excluded.metrics,
			source = excluded.source,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, cfg.Version, cfg.IsoWeight, cfg.XGBWeight, cfg.Threshold,
		cfg.F1Score, cfg.Precision, cfg.Recall, string(metrics),
		string(cfg.Source), createdAt,
	)
	return err
}

// GetActiveEnsembleConfig returns the highest stored version for a tenant.
func (r *SQLRepository) GetActiveEnsembleConfig(ctx context.Context, tenantID string) (*domain.EnsembleConfig, error) {
	configs, err := r.ListEnsembleConfigs(ctx, tenantID, 1)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, ErrNotFound
	}
	return configs[0], nil
}

// ListEnsembleConfigs returns stored versions for a tenant, newest first.
func (r *SQLRepository) ListEnsembleConfigs(ctx context.Context, tenantID string, limit int) ([]*domain.EnsembleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT version, iso_weight, xgb_weight, threshold,
			   f1_score, precision_score, recall_score, metrics, source, created_at
		FROM ensemble_configs
		WHERE tenant_id = ?
		ORDER BY version DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.EnsembleConfig
	for rows.Next() {
		var cfg domain.EnsembleConfig
		var metrics sql.NullString
		var source string

		if err := rows.Scan(
			&cfg.Version, &cfg.IsoWeight, &cfg.XGBWeight, &cfg.Threshold,
			&cfg.F1Score, &cfg.Precision, &cfg.Recall, &metrics, &source, &cfg.CreatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Source = domain.ConfigSource(source)
		if metrics.Valid && metrics.String != "" && metrics.String != "null" {
			if err := json.Unmarshal([]byte(metrics.String), &cfg.Metrics); err != nil {
				return nil, fmt.Errorf("failed to parse metrics for version %d: %w", cfg.Version, err)
			}
		}
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
