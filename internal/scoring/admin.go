package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
	"github.com/opensource-finance/fraudlens/internal/feedback"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Calibration is the outcome of re-optimizing the threshold on feedback.
type Calibration struct {
	Config  domain.EnsembleConfig   `json:"config"`
	Metrics domain.ThresholdMetrics `json:"metrics"`
	Samples int                     `json:"samples"`
}

// UpdateWeights publishes new ensemble weights.
func (s *Service) UpdateWeights(ctx context.Context, tenantID string, iso, xgb float64) (domain.EnsembleConfig, error) {
	st, err := s.loaded()
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	cfg, err := st.predictor.UpdateWeights(iso, xgb)
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	s.configChanged(ctx, tenantID, cfg)
	return cfg, nil
}

// UpdateThreshold publishes a new decision threshold.
func (s *Service) UpdateThreshold(ctx context.Context, tenantID string, threshold float64) (domain.EnsembleConfig, error) {
	st, err := s.loaded()
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	cfg, err := st.predictor.UpdateThreshold(threshold)
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	s.configChanged(ctx, tenantID, cfg)
	return cfg, nil
}

// ApplyOverrides publishes operator overrides from configuration. An empty
// or already-live override leaves the config and its history untouched.
func (s *Service) ApplyOverrides(ctx context.Context, o domain.EnsembleOverrides) (domain.EnsembleConfig, error) {
	st, err := s.loaded()
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	if o.Empty() {
		return st.predictor.Config()
	}
	cfg, applied, err := st.predictor.Override(o)
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	if applied {
		s.configChanged(ctx, domain.GlobalTenantID, cfg)
	}
	return cfg, nil
}

// RecordFeedback stores the confirmed label of a served prediction.
func (s *Service) RecordFeedback(ctx context.Context, tenantID, predictionID string, label int) (*domain.Feedback, error) {
	if label != 0 && label != 1 {
		return nil, &domain.ValidationError{Fields: []string{"label"}, Reason: "label must be 0 or 1"}
	}
	if predictionID == "" {
		return nil, &domain.ValidationError{Fields: []string{"prediction_id"}, Reason: "is required"}
	}
	if s.deps.Feedback == nil {
		return nil, &domain.ConfigurationError{Field: "feedback", Reason: "store is disabled"}
	}
	if s.deps.Repository == nil {
		return nil, &domain.ConfigurationError{Field: "repository", Reason: "is required to resolve predictions"}
	}

	p, err := s.deps.Repository.GetPrediction(ctx, tenantID, predictionID)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", predictionID, err)
	}

	fb := &domain.Feedback{
		PredictionID:          predictionID,
		TenantID:              tenantID,
		HybridScore:           p.Result.HybridScore,
		AnomalyNormalized:     p.Result.AnomalyNormalized,
		ClassifierProbability: p.Result.ClassifierProbability,
		ConfigVersion:         p.Result.ConfigVersion,
		Label:                 label,
	}
	if err := s.deps.Feedback.Save(ctx, fb); err != nil {
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveFeedback(label)
	}

	slog.Info("feedback recorded",
		"tenant_id", tenantID,
		"prediction_id", predictionID,
		"label", label,
	)
	return fb, nil
}

// Calibrate re-optimizes the threshold over the tenant's labeled outcomes
// and publishes it. minSamples <= 0 uses the configured minimum.
func (s *Service) Calibrate(ctx context.Context, tenantID string, minSamples int, opts ...ensemble.Option) (*Calibration, error) {
	ctx, span := tracer.Start(ctx, "scoring.Calibrate",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	st, err := s.loaded()
	if err != nil {
		return nil, err
	}
	if s.deps.Feedback == nil {
		return nil, &domain.ConfigurationError{Field: "feedback", Reason: "store is disabled"}
	}
	if minSamples <= 0 {
		minSamples = s.opts.MinFeedbackSamples
	}

	records, err := s.deps.Feedback.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	if len(records) == 0 || len(records) < minSamples {
		return nil, &domain.ValidationError{
			Fields: []string{"feedback"},
			Reason: fmt.Sprintf("need at least %d labeled samples, have %d", max(minSamples, 1), len(records)),
		}
	}

	// Scores are re-blended with the live weights so the persisted metrics
	// describe the config that will serve traffic.
	w, err := st.predictor.Weights()
	if err != nil {
		return nil, err
	}
	scores, labels := feedback.Samples(records, w)
	m, err := ensemble.Optimize(scores, labels, opts...)
	if err != nil {
		return nil, err
	}

	cfg, err := st.predictor.Calibrate(m, w)
	if err != nil {
		return nil, err
	}
	s.configChanged(ctx, tenantID, cfg)

	span.SetAttributes(
		attribute.Float64("threshold", m.Threshold),
		attribute.Float64("f1", m.F1),
		attribute.Int("samples", len(records)),
	)
	slog.Info("threshold calibrated",
		"tenant_id", tenantID,
		"samples", len(records),
		"threshold", m.Threshold,
		"f1", m.F1,
		"version", cfg.Version,
	)
	return &Calibration{Config: cfg, Metrics: m, Samples: len(records)}, nil
}

// History lists persisted ensemble configs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*domain.EnsembleConfig, error) {
	if s.deps.Repository == nil {
		cfg, err := s.Config()
		if err != nil {
			return nil, err
		}
		return []*domain.EnsembleConfig{&cfg}, nil
	}
	return s.deps.Repository.ListEnsembleConfigs(ctx, domain.GlobalTenantID, limit)
}

// GetPrediction returns a stored prediction.
func (s *Service) GetPrediction(ctx context.Context, tenantID, predictionID string) (*domain.Prediction, error) {
	if s.deps.Repository == nil {
		return nil, &domain.ConfigurationError{Field: "repository", Reason: "is not configured"}
	}
	return s.deps.Repository.GetPrediction(ctx, tenantID, predictionID)
}

// configChanged persists cfg, refreshes gauges and announces the change.
func (s *Service) configChanged(ctx context.Context, tenantID string, cfg domain.EnsembleConfig) {
	if s.deps.Repository != nil {
		if err := s.deps.Repository.SaveEnsembleConfig(ctx, domain.GlobalTenantID, &cfg); err != nil {
			slog.Error("failed to save ensemble config",
				"version", cfg.Version,
				"error", err,
			)
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetEnsemble(cfg)
	}
	if s.deps.Bus != nil {
		payload, err := json.Marshal(cfg)
		if err == nil {
			s.publish(ctx, tenantID, domain.TopicConfigUpdated, payload)
		}
	}

	slog.Info("ensemble config updated",
		"tenant_id", tenantID,
		"version", cfg.Version,
		"source", cfg.Source,
		"iso_weight", cfg.IsoWeight,
		"xgb_weight", cfg.XGBWeight,
		"threshold", cfg.Threshold,
	)
}
