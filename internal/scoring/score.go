package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BatchResult is the outcome of ScoreBatch.
type BatchResult struct {
	Predictions     []*domain.Prediction `json:"predictions"`
	TotalSamples    int                  `json:"total_samples"`
	ExecutionTimeMs float64              `json:"execution_time_ms"`
}

// Score runs one sample through the pipeline.
func (s *Service) Score(ctx context.Context, tenantID, requestID string, input map[string]any) (*domain.Prediction, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	p, err := s.score(ctx, tenantID, requestID, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveError(err)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("hybrid_score", p.Result.HybridScore),
		attribute.Bool("fraud", p.Result.Fraud),
		attribute.Bool("cached", p.Cached),
	)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObservePrediction(p.Result, time.Since(start))
	}

	s.record(ctx, p)

	slog.Debug("prediction scored",
		"prediction_id", p.ID,
		"tenant_id", tenantID,
		"decision", p.Result.Decision(),
		"hybrid_score", p.Result.HybridScore,
		"cached", p.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return p, nil
}

func (s *Service) score(ctx context.Context, tenantID, requestID string, input map[string]any) (*domain.Prediction, error) {
	st, err := s.loaded()
	if err != nil {
		return nil, err
	}

	raw, values, err := st.schema.Vectorize(input)
	if err != nil {
		return nil, err
	}
	x, err := st.scaler.Transform(raw)
	if err != nil {
		return nil, err
	}

	cfg, err := st.predictor.Config()
	if err != nil {
		return nil, err
	}

	key := cacheKey(tenantID, cfg.Version, x)
	if cached := s.cached(ctx, tenantID, key); cached != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.CacheHits.Inc()
		}
		return newPrediction(tenantID, requestID, *cached, values, true), nil
	}

	result, err := st.predictor.EvaluateContext(ctx, x)
	if err != nil {
		return nil, err
	}

	if result.ConfigVersion == cfg.Version {
		s.store(ctx, tenantID, key, &result)
	}
	return newPrediction(tenantID, requestID, result, values, false), nil
}

// ScoreBatch validates every sample before scoring any of them. A single
// invalid sample rejects the whole batch.
func (s *Service) ScoreBatch(ctx context.Context, tenantID, requestID string, inputs []map[string]any) (*BatchResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "scoring.ScoreBatch",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("batch.size", len(inputs)),
		),
	)
	defer span.End()

	result, err := s.scoreBatch(ctx, tenantID, requestID, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveError(err)
		}
		return nil, err
	}

	elapsed := time.Since(start)
	result.ExecutionTimeMs = float64(elapsed.Microseconds()) / 1000

	for _, p := range result.Predictions {
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObservePrediction(p.Result, elapsed/time.Duration(len(result.Predictions)))
		}
		s.record(ctx, p)
	}

	slog.Info("batch scored",
		"tenant_id", tenantID,
		"samples", result.TotalSamples,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

func (s *Service) scoreBatch(ctx context.Context, tenantID, requestID string, inputs []map[string]any) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, &domain.ValidationError{Fields: []string{"samples"}, Reason: "batch is empty"}
	}
	if len(inputs) > s.opts.MaxBatchSamples {
		return nil, &domain.ValidationError{
			Fields: []string{"samples"},
			Reason: fmt.Sprintf("batch exceeds %d samples", s.opts.MaxBatchSamples),
		}
	}

	st, err := s.loaded()
	if err != nil {
		return nil, err
	}

	xs := make([][]float64, len(inputs))
	values := make([]map[string]float64, len(inputs))
	for i, input := range inputs {
		raw, named, err := st.schema.Vectorize(input)
		if err != nil {
			return nil, indexed(i, err)
		}
		x, err := st.scaler.Transform(raw)
		if err != nil {
			return nil, indexed(i, err)
		}
		xs[i], values[i] = x, named
	}

	cfg, err := st.predictor.Config()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(xs))
	for i, x := range xs {
		keys[i] = cacheKey(tenantID, cfg.Version, x)
	}
	hits := s.cachedBatch(ctx, tenantID, keys)

	var missXs [][]float64
	var missAt []int
	for i, hit := range hits {
		if hit == nil {
			missXs = append(missXs, xs[i])
			missAt = append(missAt, i)
		}
	}

	results := make([]domain.PredictionResult, len(xs))
	if len(missXs) > 0 {
		scored, err := st.predictor.PredictBatch(ctx, missXs)
		if err != nil {
			return nil, err
		}
		fresh := make(map[string]*domain.PredictionResult, len(scored))
		for j, r := range scored {
			i := missAt[j]
			results[i] = r
			if r.ConfigVersion == cfg.Version {
				fresh[keys[i]] = &scored[j]
			}
		}
		s.storeBatch(ctx, tenantID, fresh)
	}

	out := &BatchResult{
		Predictions:  make([]*domain.Prediction, len(xs)),
		TotalSamples: len(xs),
	}
	for i := range xs {
		reqID := requestID
		if reqID != "" {
			reqID = requestID + "-" + strconv.Itoa(i)
		}
		if hits[i] != nil {
			out.Predictions[i] = newPrediction(tenantID, reqID, *hits[i], values[i], true)
			continue
		}
		out.Predictions[i] = newPrediction(tenantID, reqID, results[i], values[i], false)
	}
	if n := len(xs) - len(missXs); n > 0 && s.deps.Metrics != nil {
		s.deps.Metrics.CacheHits.Add(float64(n))
	}
	return out, nil
}

// indexed qualifies a validation error with the sample position.
func indexed(i int, err error) error {
	if ve, ok := err.(*domain.ValidationError); ok {
		return &domain.ValidationError{
			Fields: ve.Fields,
			Reason: fmt.Sprintf("sample %d: %s", i, ve.Reason),
		}
	}
	return fmt.Errorf("sample %d: %w", i, err)
}

func newPrediction(tenantID, requestID string, r domain.PredictionResult, values map[string]float64, cached bool) *domain.Prediction {
	return &domain.Prediction{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		RequestID: requestID,
		Result:    r,
		Features:  values,
		Cached:    cached,
		CreatedAt: time.Now().UTC(),
	}
}

// record persists and publishes a prediction. Failures are logged only.
func (s *Service) record(ctx context.Context, p *domain.Prediction) {
	if s.deps.Repository != nil {
		if err := s.deps.Repository.SavePrediction(ctx, p.TenantID, p); err != nil {
			slog.Error("failed to save prediction",
				"prediction_id", p.ID,
				"tenant_id", p.TenantID,
				"error", err,
			)
		}
	}

	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		slog.Error("failed to encode prediction", "prediction_id", p.ID, "error", err)
		return
	}
	s.publish(ctx, p.TenantID, domain.TopicDecision, payload)
	if p.Result.Fraud {
		s.publish(ctx, p.TenantID, domain.TopicAlert, payload)
	}
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, payload []byte) {
	if err := s.deps.Bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}

func (s *Service) cached(ctx context.Context, tenantID, key string) *domain.PredictionResult {
	if s.deps.Cache == nil {
		return nil
	}
	r, err := s.deps.Cache.GetPrediction(ctx, tenantID, key)
	if err != nil {
		slog.Warn("prediction cache read failed", "tenant_id", tenantID, "error", err)
		return nil
	}
	return r
}

func (s *Service) store(ctx context.Context, tenantID, key string, r *domain.PredictionResult) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.SetPrediction(ctx, tenantID, key, r, s.opts.PredictionTTL); err != nil {
		slog.Warn("prediction cache write failed", "tenant_id", tenantID, "error", err)
	}
}

// cachedBatch returns one slot per key; nil slots are misses. A read
// failure degrades to all misses.
func (s *Service) cachedBatch(ctx context.Context, tenantID string, keys []string) []*domain.PredictionResult {
	if s.deps.Cache == nil {
		return make([]*domain.PredictionResult, len(keys))
	}
	hits, err := s.deps.Cache.GetPredictions(ctx, tenantID, keys)
	if err != nil || len(hits) != len(keys) {
		if err != nil {
			slog.Warn("prediction cache batch read failed", "tenant_id", tenantID, "error", err)
		}
		return make([]*domain.PredictionResult, len(keys))
	}
	return hits
}

func (s *Service) storeBatch(ctx context.Context, tenantID string, results map[string]*domain.PredictionResult) {
	if s.deps.Cache == nil || len(results) == 0 {
		return
	}
	if err := s.deps.Cache.SetPredictions(ctx, tenantID, results, s.opts.PredictionTTL); err != nil {
		slog.Warn("prediction cache batch write failed", "tenant_id", tenantID, "error", err)
	}
}

// cacheKey hashes the tenant, the config version and the scaled vector.
// A config change therefore never serves a stale decision.
func cacheKey(tenantID string, version int64, x []float64) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(version))
	h.Write(buf[:])
	for _, v := range x {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
