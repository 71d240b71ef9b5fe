package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces every key written by Fraudlens.
const redisKeyPrefix = "fraudlens:"

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching, where it lets
// replicas share decisions for repeated transactions.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func redisKey(tenantID, key string) string {
	return redisKeyPrefix + makeKey(tenantID, key)
}

// Get retrieves a value from Redis. A missing key is (nil, nil).
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetPrediction retrieves a cached prediction result.
func (c *RedisCache) GetPrediction(ctx context.Context, tenantID string, key string) (*domain.PredictionResult, error) {
	return getPrediction(ctx, c, tenantID, key)
}

// SetPrediction caches a prediction result.
func (c *RedisCache) SetPrediction(ctx context.Context, tenantID string, key string, result *domain.PredictionResult, ttl time.Duration) error {
	return setPrediction(ctx, c, tenantID, key, result, ttl)
}

// GetPredictions resolves a batch with a single MGET.
func (c *RedisCache) GetPredictions(ctx context.Context, tenantID string, keys []string) ([]*domain.PredictionResult, error) {
	return getPredictions(ctx, c, tenantID, keys)
}

// SetPredictions writes a batch in one pipeline.
func (c *RedisCache) SetPredictions(ctx context.Context, tenantID string, results map[string]*domain.PredictionResult, ttl time.Duration) error {
	return setPredictions(ctx, c, tenantID, results, ttl)
}

func (c *RedisCache) getMany(ctx context.Context, tenantID string, keys []string) ([][]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisKey(tenantID, k)
	}

	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (c *RedisCache) setMany(ctx context.Context, tenantID string, values map[string][]byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, redisKey(tenantID, k), v, ttl)
		}
		return nil
	})
	return err
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
