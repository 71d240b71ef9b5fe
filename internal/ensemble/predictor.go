package ensemble

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Scores are the intermediate values behind one hybrid score.
type Scores struct {
	AnomalyRaw            float64
	AnomalyNormalized     float64
	ClassifierProbability float64
	Hybrid                float64
}

// snapshot is an immutable view of the active ensemble config.
type snapshot struct {
	weights Weights
	config  domain.EnsembleConfig
}

// Predictor scores scaled vectors with both models and a shared config
// snapshot. Readers load the snapshot once per call; updates publish a new
// snapshot with a single atomic store.
type Predictor struct {
	anomaly    AnomalyModel
	classifier ClassifierModel
	normalizer *Normalizer
	maxWorkers int

	current atomic.Pointer[snapshot]
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithMaxWorkers bounds PredictBatch concurrency.
func WithMaxWorkers(n int) PredictorOption {
	return func(p *Predictor) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// NewPredictor creates a predictor. A nil config leaves the predictor
// unconfigured and every prediction fails with ModelNotLoadedError.
func NewPredictor(anomaly AnomalyModel, classifier ClassifierModel, normalizer *Normalizer, cfg *domain.EnsembleConfig, opts ...PredictorOption) (*Predictor, error) {
	if normalizer == nil {
		normalizer = NewFixedNormalizer()
	}
	p := &Predictor{
		anomaly:    anomaly,
		classifier: classifier,
		normalizer: normalizer,
		maxWorkers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg != nil {
		snap, err := newSnapshot(*cfg)
		if err != nil {
			return nil, err
		}
		p.current.Store(snap)
	}
	return p, nil
}

func newSnapshot(cfg domain.EnsembleConfig) (*snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w, err := NewWeights(cfg.IsoWeight, cfg.XGBWeight)
	if err != nil {
		return nil, err
	}
	cfg.IsoWeight, cfg.XGBWeight = w.Iso, w.XGB
	cfg.Metrics = maps.Clone(cfg.Metrics)
	return &snapshot{weights: w, config: cfg}, nil
}

// view copies the config so callers cannot reach the snapshot's metrics map.
func (s *snapshot) view() domain.EnsembleConfig {
	cfg := s.config
	cfg.Metrics = maps.Clone(cfg.Metrics)
	return cfg
}

// Normalizer returns the anomaly score normalizer.
func (p *Predictor) Normalizer() *Normalizer { return p.normalizer }

// Config returns the active ensemble config.
func (p *Predictor) Config() (domain.EnsembleConfig, error) {
	snap := p.current.Load()
	if snap == nil {
		return domain.EnsembleConfig{}, &domain.ModelNotLoadedError{Component: "ensemble config"}
	}
	return snap.view(), nil
}

// PredictProba returns the hybrid score and its components for x.
func (p *Predictor) PredictProba(x []float64) (Scores, error) {
	snap, err := p.load()
	if err != nil {
		return Scores{}, err
	}
	return p.score(context.Background(), snap, x)
}

// Predict returns 1 when the hybrid score reaches the threshold.
func (p *Predictor) Predict(x []float64) (int, error) {
	snap, err := p.load()
	if err != nil {
		return 0, err
	}
	s, err := p.score(context.Background(), snap, x)
	if err != nil {
		return 0, err
	}
	return Decide(s.Hybrid, snap.config.Threshold), nil
}

// Evaluate scores x and returns the full decision.
func (p *Predictor) Evaluate(x []float64) (domain.PredictionResult, error) {
	return p.EvaluateContext(context.Background(), x)
}

// EvaluateContext is Evaluate with ctx passed to a ContextClassifier.
func (p *Predictor) EvaluateContext(ctx context.Context, x []float64) (domain.PredictionResult, error) {
	snap, err := p.load()
	if err != nil {
		return domain.PredictionResult{}, err
	}
	return p.evaluate(ctx, snap, x)
}

// PredictBatch evaluates xs in parallel against a single snapshot. Results
// keep input order and the first error cancels the remaining work.
func (p *Predictor) PredictBatch(ctx context.Context, xs [][]float64) ([]domain.PredictionResult, error) {
	snap, err := p.load()
	if err != nil {
		return nil, err
	}

	results := make([]domain.PredictionResult, len(xs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i, x := range xs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := p.evaluate(gctx, snap, x)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateWeights re-normalizes iso and xgb and publishes a new snapshot.
func (p *Predictor) UpdateWeights(iso, xgb float64) (domain.EnsembleConfig, error) {
	w, err := NewWeights(iso, xgb)
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	return p.swap(func(cfg *domain.EnsembleConfig) error {
		cfg.IsoWeight, cfg.XGBWeight = w.Iso, w.XGB
		cfg.Source = domain.ConfigSourceUpdate
		return nil
	})
}

// UpdateThreshold publishes a new snapshot with threshold t.
func (p *Predictor) UpdateThreshold(t float64) (domain.EnsembleConfig, error) {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return domain.EnsembleConfig{}, &domain.ConfigurationError{Field: "threshold", Reason: "must be within [0, 1]"}
	}
	return p.swap(func(cfg *domain.EnsembleConfig) error {
		cfg.Threshold = t
		cfg.Source = domain.ConfigSourceUpdate
		return nil
	})
}

// Weights returns the normalized weights of the active snapshot.
func (p *Predictor) Weights() (Weights, error) {
	snap, err := p.load()
	if err != nil {
		return Weights{}, err
	}
	return snap.weights, nil
}

// Calibrate publishes the threshold and metrics chosen by the optimizer.
// m must have been computed on scores blended with w; if the active
// weights differ by the time of the swap the calibration is rejected.
func (p *Predictor) Calibrate(m domain.ThresholdMetrics, w Weights) (domain.EnsembleConfig, error) {
	if math.IsNaN(m.Threshold) || m.Threshold < 0 || m.Threshold > 1 {
		return domain.EnsembleConfig{}, &domain.ConfigurationError{Field: "threshold", Reason: "must be within [0, 1]"}
	}
	return p.swap(func(cfg *domain.EnsembleConfig) error {
		if cfg.IsoWeight != w.Iso || cfg.XGBWeight != w.XGB {
			return &domain.ConfigurationError{Field: "weights", Reason: "changed during calibration, retry"}
		}
		cfg.Threshold = m.Threshold
		cfg.F1Score = m.F1
		cfg.Precision = m.Precision
		cfg.Recall = m.Recall
		cfg.Source = domain.ConfigSourceCalibration
		return nil
	})
}

// Override applies operator overrides on top of the active config. It reports
// false without publishing when the result matches what is already live.
func (p *Predictor) Override(o domain.EnsembleOverrides) (domain.EnsembleConfig, bool, error) {
	applied := true
	cfg, err := p.swap(func(cfg *domain.EnsembleConfig) error {
		next := o.Apply(*cfg)
		w, err := NewWeights(next.IsoWeight, next.XGBWeight)
		if err != nil {
			return err
		}
		if next.Threshold == cfg.Threshold && w.Iso == cfg.IsoWeight && w.XGB == cfg.XGBWeight {
			return errUnchanged
		}
		*cfg = next
		cfg.Source = domain.ConfigSourceOverride
		return nil
	})
	if errors.Is(err, errUnchanged) {
		applied = false
		cfg, err = p.Config()
	}
	return cfg, applied, err
}

var errUnchanged = errors.New("ensemble config unchanged")

// Replace publishes cfg as-is after validation, keeping versions monotonic.
func (p *Predictor) Replace(cfg domain.EnsembleConfig) (domain.EnsembleConfig, error) {
	next, err := newSnapshot(cfg)
	if err != nil {
		return domain.EnsembleConfig{}, err
	}
	for {
		old := p.current.Load()
		if old != nil && next.config.Version <= old.config.Version {
			next.config.Version = old.config.Version + 1
		}
		if p.current.CompareAndSwap(old, next) {
			return next.view(), nil
		}
	}
}

// swap derives a new snapshot from the current one. Concurrent updates
// retry so neither is lost.
func (p *Predictor) swap(mutate func(*domain.EnsembleConfig) error) (domain.EnsembleConfig, error) {
	for {
		old, err := p.load()
		if err != nil {
			return domain.EnsembleConfig{}, err
		}

		cfg := old.config
		if err := mutate(&cfg); err != nil {
			return domain.EnsembleConfig{}, err
		}
		cfg.Version = old.config.Version + 1
		cfg.CreatedAt = time.Now().UTC()

		next, err := newSnapshot(cfg)
		if err != nil {
			return domain.EnsembleConfig{}, err
		}
		if p.current.CompareAndSwap(old, next) {
			return next.view(), nil
		}
	}
}

func (p *Predictor) load() (*snapshot, error) {
	snap := p.current.Load()
	if snap == nil {
		return nil, &domain.ModelNotLoadedError{Component: "ensemble config"}
	}
	return snap, nil
}

func (p *Predictor) score(ctx context.Context, snap *snapshot, x []float64) (Scores, error) {
	if p.anomaly == nil {
		return Scores{}, &domain.ModelNotLoadedError{Component: "anomaly model"}
	}
	if p.classifier == nil {
		return Scores{}, &domain.ModelNotLoadedError{Component: "classifier"}
	}

	raw, err := p.anomaly.Score(x)
	if err != nil {
		return Scores{}, fmt.Errorf("anomaly model: %w", err)
	}
	var proba [2]float64
	if cc, ok := p.classifier.(ContextClassifier); ok {
		proba, err = cc.PredictProbaContext(ctx, x)
	} else {
		proba, err = p.classifier.PredictProba(x)
	}
	if err != nil {
		return Scores{}, fmt.Errorf("classifier: %w", err)
	}
	fraud := proba[1]
	if math.IsNaN(fraud) || fraud < 0 || fraud > 1 {
		return Scores{}, fmt.Errorf("classifier returned invalid probability %v", fraud)
	}

	norm := p.normalizer.Normalize(raw)
	return Scores{
		AnomalyRaw:            raw,
		AnomalyNormalized:     norm,
		ClassifierProbability: fraud,
		Hybrid:                Combine(norm, fraud, snap.weights),
	}, nil
}

func (p *Predictor) evaluate(ctx context.Context, snap *snapshot, x []float64) (domain.PredictionResult, error) {
	s, err := p.score(ctx, snap, x)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	pred := Decide(s.Hybrid, snap.config.Threshold)
	return domain.PredictionResult{
		Prediction:            pred,
		Fraud:                 pred == 1,
		HybridScore:           s.Hybrid,
		Confidence:            Confidence(s.Hybrid),
		ThresholdUsed:         snap.config.Threshold,
		AnomalyScore:          s.AnomalyRaw,
		AnomalyNormalized:     s.AnomalyNormalized,
		ClassifierProbability: s.ClassifierProbability,
		ConfigVersion:         snap.config.Version,
	}, nil
}
