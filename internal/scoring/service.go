// Package scoring runs the prediction pipeline: validate, derive, scale,
// score, threshold, then persist, cache and publish the outcome.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
	"github.com/opensource-finance/fraudlens/internal/features"
	"github.com/opensource-finance/fraudlens/internal/metrics"
	"github.com/opensource-finance/fraudlens/internal/registry"
	"github.com/opensource-finance/fraudlens/internal/repository"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("fraudlens-scoring")

// Models is the loaded model bundle a Service scores with.
type Models struct {
	FeatureNames    []string
	Scaler          registry.Scaler
	Anomaly         ensemble.AnomalyModel
	Classifier      ensemble.ClassifierModel
	Normalizer      *ensemble.Normalizer
	Config          domain.EnsembleConfig
	TrainingMetrics map[string]any
	Names           []string
	LoadedAt        time.Time
}

// ModelsFromRegistry adapts a loaded registry.
func ModelsFromRegistry(r *registry.Registry) *Models {
	return &Models{
		FeatureNames:    r.FeatureNames(),
		Scaler:          r.Scaler(),
		Anomaly:         r.Anomaly(),
		Classifier:      r.Classifier(),
		Normalizer:      r.Normalizer(),
		Config:          r.EnsembleConfig(),
		TrainingMetrics: r.TrainingMetrics(),
		Names:           r.ModelNames(),
		LoadedAt:        r.LoadedAt(),
	}
}

// Dependencies are the optional collaborators of a Service. Any of them
// may be nil.
type Dependencies struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Feedback   domain.FeedbackStore
	Metrics    *metrics.Metrics
}

// Options tune the pipeline.
type Options struct {
	Derivations        []domain.Derivation
	MaxBatchSamples    int
	MaxWorkers         int
	PredictionTTL      time.Duration
	MinFeedbackSamples int

	// Overrides are applied over every loaded or restored config.
	Overrides domain.EnsembleOverrides
}

// modelState is swapped as a unit when models are (re)loaded.
type modelState struct {
	models    *Models
	schema    *features.Schema
	scaler    registry.Scaler
	predictor *ensemble.Predictor
}

// Service orchestrates scoring and ensemble administration.
type Service struct {
	deps Dependencies
	opts Options

	// fallback describes the default feature set while no models are loaded.
	fallback *features.Schema
	state    atomic.Pointer[modelState]
}

// NewService creates a service. A nil models bundle starts the service in
// a degraded state where predictions fail with ModelNotLoadedError.
func NewService(models *Models, deps Dependencies, opts Options) (*Service, error) {
	if opts.MaxBatchSamples <= 0 {
		opts.MaxBatchSamples = 10000
	}
	if opts.PredictionTTL <= 0 {
		opts.PredictionTTL = 10 * time.Minute
	}

	fallback, err := features.NewSchema(features.DefaultFeatureNames(), opts.Derivations)
	if err != nil {
		return nil, err
	}

	s := &Service{deps: deps, opts: opts, fallback: fallback}
	if models != nil {
		if err := s.LoadModels(models); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadModels swaps in a new model bundle. The config version continues from
// the one in effect so history stays monotonic.
func (s *Service) LoadModels(m *Models) error {
	schema, err := features.NewSchema(m.FeatureNames, s.opts.Derivations)
	if err != nil {
		return err
	}

	scaler := m.Scaler
	if scaler == nil {
		scaler = registry.IdentityScaler{}
	}

	cfg := m.Config
	if !s.opts.Overrides.Empty() {
		cfg = s.opts.Overrides.Apply(cfg)
		cfg.Source = domain.ConfigSourceOverride
	}
	if old := s.state.Load(); old != nil {
		if cur, err := old.predictor.Config(); err == nil && cfg.Version <= cur.Version {
			cfg.Version = cur.Version + 1
		}
	}

	predictor, err := ensemble.NewPredictor(m.Anomaly, m.Classifier, m.Normalizer, &cfg,
		ensemble.WithMaxWorkers(s.opts.MaxWorkers))
	if err != nil {
		return err
	}

	s.state.Store(&modelState{
		models:    m,
		schema:    schema,
		scaler:    scaler,
		predictor: predictor,
	})

	if active, err := predictor.Config(); err == nil && s.deps.Metrics != nil {
		s.deps.Metrics.SetEnsemble(active)
	}

	slog.Info("models loaded",
		"features", schema.Len(),
		"derived", schema.Derived(),
		"models", m.Names,
		"config_version", cfg.Version,
	)
	return nil
}

// Restore resumes the newest persisted ensemble config when it is more
// recent than the loaded one. Without history the loaded config is
// recorded as the first version.
func (s *Service) Restore(ctx context.Context) error {
	st, err := s.loaded()
	if err != nil {
		return err
	}
	if s.deps.Repository == nil {
		return nil
	}

	current, err := st.predictor.Config()
	if err != nil {
		return err
	}

	saved, err := s.deps.Repository.GetActiveEnsembleConfig(ctx, domain.GlobalTenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.deps.Repository.SaveEnsembleConfig(ctx, domain.GlobalTenantID, &current)
	}
	if err != nil {
		return fmt.Errorf("failed to load ensemble config: %w", err)
	}

	if saved.Version <= current.Version {
		return nil
	}

	restored, err := st.predictor.Replace(*saved)
	if err != nil {
		return err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetEnsemble(restored)
	}

	slog.Info("ensemble config restored",
		"version", restored.Version,
		"source", restored.Source,
		"threshold", restored.Threshold,
	)

	_, err = s.ApplyOverrides(ctx, s.opts.Overrides)
	return err
}

func (s *Service) loaded() (*modelState, error) {
	st := s.state.Load()
	if st == nil {
		return nil, &domain.ModelNotLoadedError{Component: "model registry"}
	}
	return st, nil
}

// Ready reports whether models are loaded.
func (s *Service) Ready() bool {
	return s.state.Load() != nil
}

// Schema returns the active feature schema, or the default one while no
// models are loaded.
func (s *Service) Schema() *features.Schema {
	if st := s.state.Load(); st != nil {
		return st.schema
	}
	return s.fallback
}

// Config returns the ensemble config in effect.
func (s *Service) Config() (domain.EnsembleConfig, error) {
	st, err := s.loaded()
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	return st.predictor.Config()
}

// ModelNames lists the loaded model components.
func (s *Service) ModelNames() []string {
	if st := s.state.Load(); st != nil {
		return append([]string(nil), st.models.Names...)
	}
	return nil
}

// TrainingMetrics returns the metrics recorded by the training pipeline.
func (s *Service) TrainingMetrics() map[string]any {
	if st := s.state.Load(); st != nil {
		return st.models.TrainingMetrics
	}
	return nil
}

// NormalizerPolicy describes how anomaly scores are normalized.
func (s *Service) NormalizerPolicy() string {
	if st := s.state.Load(); st != nil {
		return st.predictor.Normalizer().Policy()
	}
	return ""
}

// Dependencies returns the collaborators the service was built with.
func (s *Service) Dependencies() Dependencies {
	return s.deps
}
