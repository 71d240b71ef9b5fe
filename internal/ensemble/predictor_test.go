package ensemble

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedModels returns models that read the anomaly score from x[0] and the
// fraud probability from x[1].
func fixedModels() (AnomalyModel, ClassifierModel) {
	anomaly := AnomalyFunc(func(x []float64) (float64, error) { return x[0], nil })
	classifier := ClassifierFunc(func(x []float64) ([2]float64, error) { return [2]float64{1 - x[1], x[1]}, nil })
	return anomaly, classifier
}

func newTestPredictor(t *testing.T, iso, xgb, threshold float64) *Predictor {
	t.Helper()
	anomaly, classifier := fixedModels()
	p, err := NewPredictor(anomaly, classifier, NewFixedNormalizer(), &domain.EnsembleConfig{
		IsoWeight: iso,
		XGBWeight: xgb,
		Threshold: threshold,
		Version:   1,
		Source:    domain.ConfigSourceTraining,
	})
	require.NoError(t, err)
	return p
}

func TestPredictorEndToEnd(t *testing.T) {
	p := newTestPredictor(t, 0.4, 0.6, 0.01)

	// raw -0.1 normalizes to 0.1 under the fixed transform
	r, err := p.Evaluate([]float64{-0.1, 0.05})
	require.NoError(t, err)
	assert.InDelta(t, 0.07, r.HybridScore, 1e-12)
	assert.Equal(t, 1, r.Prediction)
	assert.True(t, r.Fraud)
	assert.InDelta(t, 0.93, r.Confidence, 1e-12)
	assert.Equal(t, 0.01, r.ThresholdUsed)
	assert.Equal(t, -0.1, r.AnomalyScore)
	assert.InDelta(t, 0.1, r.AnomalyNormalized, 1e-12)
	assert.Equal(t, 0.05, r.ClassifierProbability)
	assert.Equal(t, int64(1), r.ConfigVersion)

	pred, err := p.Predict([]float64{-0.1, 0.05})
	require.NoError(t, err)
	assert.Equal(t, 1, pred)
}

func TestPredictorBoundaryIsFraud(t *testing.T) {
	p := newTestPredictor(t, 1, 1, 0.5)
	r, err := p.Evaluate([]float64{-0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.HybridScore)
	assert.Equal(t, 1, r.Prediction)
	assert.Equal(t, 0.5, r.Confidence)
}

func TestPredictorIdempotent(t *testing.T) {
	p := newTestPredictor(t, 0.3, 0.7, 0.5)
	x := []float64{-0.42, 0.61}
	first, err := p.Evaluate(x)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.Evaluate(x)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPredictorProba(t *testing.T) {
	p := newTestPredictor(t, 3, 7, 0.5)
	s, err := p.PredictProba([]float64{-1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.AnomalyNormalized)
	assert.InDelta(t, 0.3, s.Hybrid, 1e-12)

	cfg, err := p.Config()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.IsoWeight, 1e-12)
	assert.InDelta(t, 0.7, cfg.XGBWeight, 1e-12)
}

func TestPredictorNaNAnomalyScore(t *testing.T) {
	p := newTestPredictor(t, 0.5, 0.5, 0.5)
	r, err := p.Evaluate([]float64{math.NaN(), 0.2})
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.AnomalyNormalized)
	assert.InDelta(t, 0.35, r.HybridScore, 1e-12)
}

func TestPredictorNotLoaded(t *testing.T) {
	anomaly, classifier := fixedModels()

	t.Run("NoConfig", func(t *testing.T) {
		p, err := NewPredictor(anomaly, classifier, nil, nil)
		require.NoError(t, err)
		_, err = p.Evaluate([]float64{0, 0})
		assert.True(t, domain.IsModelNotLoaded(err))
		_, err = p.Config()
		assert.True(t, domain.IsModelNotLoaded(err))
		_, err = p.UpdateWeights(1, 1)
		assert.True(t, domain.IsModelNotLoaded(err))
	})

	t.Run("NoClassifier", func(t *testing.T) {
		p, err := NewPredictor(anomaly, nil, nil, &domain.EnsembleConfig{IsoWeight: 1, XGBWeight: 1, Threshold: 0.5})
		require.NoError(t, err)
		_, err = p.Predict([]float64{0, 0})
		assert.True(t, domain.IsModelNotLoaded(err))
	})
}

func TestPredictorRejectsBadConfig(t *testing.T) {
	anomaly, classifier := fixedModels()
	_, err := NewPredictor(anomaly, classifier, nil, &domain.EnsembleConfig{IsoWeight: 0, XGBWeight: 0, Threshold: 0.5})
	assert.True(t, domain.IsConfiguration(err))

	_, err = NewPredictor(anomaly, classifier, nil, &domain.EnsembleConfig{IsoWeight: 1, XGBWeight: 1, Threshold: 1.5})
	assert.True(t, domain.IsConfiguration(err))
}

func TestPredictorModelErrors(t *testing.T) {
	boom := errors.New("boom")
	anomaly := AnomalyFunc(func([]float64) (float64, error) { return 0, boom })
	_, classifier := fixedModels()
	p, err := NewPredictor(anomaly, classifier, nil, &domain.EnsembleConfig{IsoWeight: 1, XGBWeight: 1, Threshold: 0.5})
	require.NoError(t, err)

	_, err = p.Evaluate([]float64{0, 0})
	assert.ErrorIs(t, err, boom)

	badProba := ClassifierFunc(func([]float64) ([2]float64, error) { return [2]float64{0, 1.2}, nil })
	anomalyOK, _ := fixedModels()
	p, err = NewPredictor(anomalyOK, badProba, nil, &domain.EnsembleConfig{IsoWeight: 1, XGBWeight: 1, Threshold: 0.5})
	require.NoError(t, err)
	_, err = p.Evaluate([]float64{0, 0})
	assert.Error(t, err)
}

func TestPredictorUpdates(t *testing.T) {
	p := newTestPredictor(t, 0.3, 0.7, 0.5)

	cfg, err := p.UpdateWeights(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.IsoWeight)
	assert.Equal(t, 0.5, cfg.XGBWeight)
	assert.Equal(t, int64(2), cfg.Version)
	assert.Equal(t, domain.ConfigSourceUpdate, cfg.Source)
	assert.Equal(t, 0.5, cfg.Threshold)

	_, err = p.UpdateWeights(-1, 2)
	assert.True(t, domain.IsConfiguration(err))
	_, err = p.UpdateWeights(0, 0)
	assert.True(t, domain.IsConfiguration(err))

	cfg, err = p.UpdateThreshold(0.2)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Threshold)
	assert.Equal(t, int64(3), cfg.Version)

	_, err = p.UpdateThreshold(1.01)
	assert.True(t, domain.IsConfiguration(err))

	w, err := p.Weights()
	require.NoError(t, err)
	cfg, err = p.Calibrate(domain.ThresholdMetrics{Threshold: 0.4, F1: 0.8, Precision: 0.75, Recall: 0.857}, w)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfigSourceCalibration, cfg.Source)
	assert.Equal(t, 0.8, cfg.F1Score)
	assert.Equal(t, int64(4), cfg.Version)

	r, err := p.Evaluate([]float64{-0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.4, r.ThresholdUsed)
	assert.Equal(t, 1, r.Prediction)
	assert.Equal(t, int64(4), r.ConfigVersion)

	cfg, err = p.Replace(domain.EnsembleConfig{IsoWeight: 1, XGBWeight: 3, Threshold: 0.6, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.Version)
	assert.Equal(t, 0.25, cfg.IsoWeight)
}

func TestPredictorCalibrateRejectsStaleWeights(t *testing.T) {
	p := newTestPredictor(t, 0.5, 0.5, 0.5)

	w, err := p.Weights()
	require.NoError(t, err)
	_, err = p.UpdateWeights(1, 0)
	require.NoError(t, err)

	_, err = p.Calibrate(domain.ThresholdMetrics{Threshold: 0.3, F1: 1}, w)
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))

	cfg, err := p.Config()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Threshold)
	assert.Equal(t, int64(2), cfg.Version)
}

func TestPredictorConfigIsACopy(t *testing.T) {
	cfg := domain.EnsembleConfig{IsoWeight: 1, XGBWeight: 1, Threshold: 0.5, Version: 1, Metrics: map[string]float64{"auc": 0.9}}
	p, err := NewPredictor(nil, nil, nil, &cfg)
	require.NoError(t, err)

	got, err := p.Config()
	require.NoError(t, err)
	got.Metrics["auc"] = 0

	again, err := p.Config()
	require.NoError(t, err)
	assert.Equal(t, 0.9, again.Metrics["auc"])
}

func TestPredictorConcurrentUpdates(t *testing.T) {
	p := newTestPredictor(t, 0.2, 0.8, 0.5)
	x := []float64{-1, 0}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (i+j)%2 == 0 {
					_, _ = p.UpdateWeights(0.2, 0.8)
				} else {
					_, _ = p.UpdateWeights(0.8, 0.2)
				}
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s, err := p.PredictProba(x)
				assert.NoError(t, err)
				ok := math.Abs(s.Hybrid-0.2) < 1e-12 || math.Abs(s.Hybrid-0.8) < 1e-12
				assert.True(t, ok, "torn weights: %v", s.Hybrid)
			}
		}()
	}
	wg.Wait()

	cfg, err := p.Config()
	require.NoError(t, err)
	assert.Equal(t, int64(801), cfg.Version)
}

func TestPredictBatch(t *testing.T) {
	p := newTestPredictor(t, 0.5, 0.5, 0.5)

	xs := make([][]float64, 200)
	for i := range xs {
		xs[i] = []float64{-float64(i % 2), float64(i % 2)}
	}

	results, err := p.PredictBatch(context.Background(), xs)
	require.NoError(t, err)
	require.Len(t, results, len(xs))
	for i, r := range results {
		assert.Equal(t, i%2, r.Prediction, "sample %d", i)
	}

	empty, err := p.PredictBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPredictBatchError(t *testing.T) {
	anomaly := AnomalyFunc(func(x []float64) (float64, error) {
		if x[0] > 0 {
			return 0, errors.New("bad sample")
		}
		return x[0], nil
	})
	_, classifier := fixedModels()
	p, err := NewPredictor(anomaly, classifier, nil,
		&domain.EnsembleConfig{IsoWeight: 1, XGBWeight: 1, Threshold: 0.5},
		WithMaxWorkers(2))
	require.NoError(t, err)

	_, err = p.PredictBatch(context.Background(), [][]float64{{-0.1, 0}, {1, 0}, {-0.2, 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad sample")
}
