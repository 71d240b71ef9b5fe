// Package metrics defines the Prometheus metrics exported by Fraudlens.
package metrics

import (
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for PredictionsTotal.
const (
	OutcomeFraud      = "fraud"
	OutcomeLegitimate = "legit"
)

// Error kind label values for PredictionErrors.
const (
	ErrorValidation     = "validation"
	ErrorModelNotLoaded = "model_not_loaded"
	ErrorConfiguration  = "configuration"
	ErrorInternal       = "internal"
)

// Metrics holds the scoring metrics.
type Metrics struct {
	PredictionsTotal  *prometheus.CounterVec
	PredictionErrors  *prometheus.CounterVec
	CacheHits         prometheus.Counter
	PredictionLatency prometheus.Histogram
	HybridScores      prometheus.Histogram
	Threshold         prometheus.Gauge
	Weights           *prometheus.GaugeVec
	FeedbackTotal     *prometheus.CounterVec
}

// New registers the metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with registerer.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "predictions_total",
			Help:      "Total number of scored samples by outcome",
		}, []string{"outcome"}),
		PredictionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "prediction_errors_total",
			Help:      "Total number of failed predictions by error kind",
		}, []string{"kind"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "cache_hits_total",
			Help:      "Total number of predictions served from cache",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fraudlens",
			Name:      "prediction_latency_seconds",
			Help:      "End-to-end scoring latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		HybridScores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fraudlens",
			Name:      "hybrid_score",
			Help:      "Distribution of hybrid scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Threshold: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fraudlens",
			Name:      "ensemble_threshold",
			Help:      "Decision threshold in effect",
		}),
		Weights: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fraudlens",
			Name:      "ensemble_weight",
			Help:      "Ensemble weight in effect per model",
		}, []string{"model"}),
		FeedbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "feedback_total",
			Help:      "Total number of labeled outcomes received",
		}, []string{"label"}),
	}
}

// ObservePrediction records one successful prediction.
func (m *Metrics) ObservePrediction(r domain.PredictionResult, elapsed time.Duration) {
	outcome := OutcomeLegitimate
	if r.Fraud {
		outcome = OutcomeFraud
	}
	m.PredictionsTotal.WithLabelValues(outcome).Inc()
	m.HybridScores.Observe(r.HybridScore)
	m.PredictionLatency.Observe(elapsed.Seconds())
}

// ObserveError records a failed prediction.
func (m *Metrics) ObserveError(err error) {
	m.PredictionErrors.WithLabelValues(ErrorKind(err)).Inc()
}

// ObserveFeedback records a received label.
func (m *Metrics) ObserveFeedback(label int) {
	if label == 1 {
		m.FeedbackTotal.WithLabelValues("fraud").Inc()
		return
	}
	m.FeedbackTotal.WithLabelValues("legit").Inc()
}

// SetEnsemble publishes the weights and threshold in effect.
func (m *Metrics) SetEnsemble(cfg domain.EnsembleConfig) {
	m.Threshold.Set(cfg.Threshold)
	m.Weights.WithLabelValues("isolation_forest").Set(cfg.IsoWeight)
	m.Weights.WithLabelValues("xgboost").Set(cfg.XGBWeight)
}

// ErrorKind maps an error onto a PredictionErrors label.
func ErrorKind(err error) string {
	switch {
	case domain.IsValidation(err):
		return ErrorValidation
	case domain.IsModelNotLoaded(err):
		return ErrorModelNotLoaded
	case domain.IsConfiguration(err):
		return ErrorConfiguration
	default:
		return ErrorInternal
	}
}
