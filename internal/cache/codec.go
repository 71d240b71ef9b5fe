package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// predictionPrefix namespaces prediction entries within a tenant.
const predictionPrefix = "pred:"

// byteCache is the raw layer each backend provides; prediction encoding
// is shared on top of it.
type byteCache interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
	getMany(ctx context.Context, tenantID string, keys []string) ([][]byte, error)
	setMany(ctx context.Context, tenantID string, values map[string][]byte, ttl time.Duration) error
}

func makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func getPrediction(ctx context.Context, c byteCache, tenantID, key string) (*domain.PredictionResult, error) {
	data, err := c.Get(ctx, tenantID, predictionPrefix+key)
	if err != nil || data == nil {
		return nil, err
	}
	return decodePrediction(data)
}

func setPrediction(ctx context.Context, c byteCache, tenantID, key string, result *domain.PredictionResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, predictionPrefix+key, data, ttl)
}

// getPredictions decodes a multi-get. An entry that fails to decode is
// reported as a miss so the sample is simply rescored.
func getPredictions(ctx context.Context, c byteCache, tenantID string, keys []string) ([]*domain.PredictionResult, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = predictionPrefix + k
	}

	raw, err := c.getMany(ctx, tenantID, prefixed)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.PredictionResult, len(keys))
	for i, data := range raw {
		if data == nil {
			continue
		}
		r, err := decodePrediction(data)
		if err != nil {
			slog.Warn("discarding undecodable cached prediction", "tenant_id", tenantID, "error", err)
			continue
		}
		out[i] = r
	}
	return out, nil
}

func setPredictions(ctx context.Context, c byteCache, tenantID string, results map[string]*domain.PredictionResult, ttl time.Duration) error {
	if len(results) == 0 {
		return nil
	}
	values := make(map[string][]byte, len(results))
	for k, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		values[predictionPrefix+k] = data
	}
	return c.setMany(ctx, tenantID, values, ttl)
}

func decodePrediction(data []byte) (*domain.PredictionResult, error) {
	var r domain.PredictionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
