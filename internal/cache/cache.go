package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
// Type "none" disables prediction caching.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize, cfg.LocalTTL), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "none", "":
		return NopCache{}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// remoteStore is the L2 contract of a TwoPhaseCache.
type remoteStore interface {
	byteCache
	Delete(ctx context.Context, tenantID string, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// TwoPhaseCache keeps hot decisions in a per-replica LRU (L1) in front of
// Redis (L2), which is shared by every replica.
type TwoPhaseCache struct {
	local  *LRUCache
	remote remoteStore
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize, cfg.LocalTTL), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote remoteStore, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// l1 caps ttl at the L1 lifetime so a replica never outlives L2.
func (c *TwoPhaseCache) l1(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.l1(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetPrediction retrieves a cached prediction, L1 first.
func (c *TwoPhaseCache) GetPrediction(ctx context.Context, tenantID string, key string) (*domain.PredictionResult, error) {
	return getPrediction(ctx, c, tenantID, key)
}

// SetPrediction caches a prediction in both L1 and L2.
func (c *TwoPhaseCache) SetPrediction(ctx context.Context, tenantID string, key string, result *domain.PredictionResult, ttl time.Duration) error {
	return setPrediction(ctx, c, tenantID, key, result, ttl)
}

// GetPredictions serves what it can from L1 and asks L2 only for the rest.
func (c *TwoPhaseCache) GetPredictions(ctx context.Context, tenantID string, keys []string) ([]*domain.PredictionResult, error) {
	return getPredictions(ctx, c, tenantID, keys)
}

// SetPredictions caches a batch in both layers.
func (c *TwoPhaseCache) SetPredictions(ctx context.Context, tenantID string, results map[string]*domain.PredictionResult, ttl time.Duration) error {
	return setPredictions(ctx, c, tenantID, results, ttl)
}

func (c *TwoPhaseCache) getMany(ctx context.Context, tenantID string, keys []string) ([][]byte, error) {
	out, err := c.local.getMany(ctx, tenantID, keys)
	if err != nil {
		return nil, err
	}

	var missing []string
	var at []int
	for i, v := range out {
		if v == nil {
			missing = append(missing, keys[i])
			at = append(at, i)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	remote, err := c.remote.getMany(ctx, tenantID, missing)
	if err != nil {
		return nil, err
	}
	fill := make(map[string][]byte)
	for j, v := range remote {
		if v != nil {
			out[at[j]] = v
			fill[missing[j]] = v
		}
	}
	if len(fill) > 0 {
		_ = c.local.setMany(ctx, tenantID, fill, c.l1TTL)
	}
	return out, nil
}

func (c *TwoPhaseCache) setMany(ctx context.Context, tenantID string, values map[string][]byte, ttl time.Duration) error {
	if err := c.local.setMany(ctx, tenantID, values, c.l1(ttl)); err != nil {
		return err
	}
	return c.remote.setMany(ctx, tenantID, values, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// NopCache never stores anything. Every lookup is a miss.
type NopCache struct{}

func (NopCache) Get(context.Context, string, string) ([]byte, error) { return nil, nil }

func (NopCache) Set(context.Context, string, string, []byte, time.Duration) error { return nil }

func (NopCache) Delete(context.Context, string, string) error { return nil }

func (NopCache) GetPrediction(context.Context, string, string) (*domain.PredictionResult, error) {
	return nil, nil
}

func (NopCache) SetPrediction(context.Context, string, string, *domain.PredictionResult, time.Duration) error {
	return nil
}

func (NopCache) GetPredictions(_ context.Context, _ string, keys []string) ([]*domain.PredictionResult, error) {
	return make([]*domain.PredictionResult, len(keys)), nil
}

func (NopCache) SetPredictions(context.Context, string, map[string]*domain.PredictionResult, time.Duration) error {
	return nil
}

func (NopCache) Ping(context.Context) error { return nil }

func (NopCache) Close() error { return nil }
