// Package cache provides prediction caching for Fraudlens.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	items      map[string]*list.Element
	order      *list.List
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
// Entries stored with a non-positive TTL use defaultTTL.
func NewLRUCache(maxSize int, defaultTTL time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRUCache{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return nil
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(makeKey(tenantID, key), time.Now()), nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	expiresAt := time.Now().Add(c.ttl(ttl))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(makeKey(tenantID, key), value, expiresAt)
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[makeKey(tenantID, key)]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetPrediction retrieves a cached prediction result.
func (c *LRUCache) GetPrediction(ctx context.Context, tenantID string, key string) (*domain.PredictionResult, error) {
	return getPrediction(ctx, c, tenantID, key)
}

// SetPrediction caches a prediction result.
func (c *LRUCache) SetPrediction(ctx context.Context, tenantID string, key string, result *domain.PredictionResult, ttl time.Duration) error {
	return setPrediction(ctx, c, tenantID, key, result, ttl)
}

// GetPredictions looks up a batch of fingerprints under one lock.
func (c *LRUCache) GetPredictions(ctx context.Context, tenantID string, keys []string) ([]*domain.PredictionResult, error) {
	return getPredictions(ctx, c, tenantID, keys)
}

// SetPredictions caches a batch of results under one lock.
func (c *LRUCache) SetPredictions(ctx context.Context, tenantID string, results map[string]*domain.PredictionResult, ttl time.Duration) error {
	return setPredictions(ctx, c, tenantID, results, ttl)
}

func (c *LRUCache) getMany(ctx context.Context, tenantID string, keys []string) ([][]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([][]byte, len(keys))

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, k := range keys {
		out[i] = c.lookup(makeKey(tenantID, k), now)
	}
	return out, nil
}

func (c *LRUCache) setMany(ctx context.Context, tenantID string, values map[string][]byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	expiresAt := time.Now().Add(c.ttl(ttl))

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.insert(makeKey(tenantID, k), v, expiresAt)
	}
	return nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// lookup returns the live value for fullKey and marks it recently used.
// Expired entries are evicted on sight. Caller holds mu.
func (c *LRUCache) lookup(fullKey string, now time.Time) []byte {
	elem, ok := c.items[fullKey]
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if now.After(entry.expiresAt) {
		c.removeElement(elem)
		return nil
	}
	c.order.MoveToFront(elem)
	return entry.value
}

// insert adds or refreshes fullKey and evicts past capacity. Caller holds mu.
func (c *LRUCache) insert(fullKey string, value []byte, expiresAt time.Time) {
	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	c.items[fullKey] = c.order.PushFront(&cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: expiresAt,
	})
	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
