package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100, time.Minute)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("DefaultTTL", func(t *testing.T) {
		short := NewLRUCache(10, 10*time.Millisecond)
		_ = short.Set(ctx, tenantID, "k", []byte("v"), 0)

		time.Sleep(20 * time.Millisecond)

		val, _ := short.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected default TTL to expire entry")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3, time.Minute)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("PredictionCache", func(t *testing.T) {
		result := &domain.PredictionResult{
			Prediction:    1,
			Fraud:         true,
			HybridScore:   0.91,
			Confidence:    0.91,
			ThresholdUsed: 0.5,
			ConfigVersion: 2,
		}

		if err := cache.SetPrediction(ctx, tenantID, "abc123", result, time.Minute); err != nil {
			t.Fatalf("SetPrediction failed: %v", err)
		}

		retrieved, err := cache.GetPrediction(ctx, tenantID, "abc123")
		if err != nil {
			t.Fatalf("GetPrediction failed: %v", err)
		}
		if retrieved == nil || *retrieved != *result {
			t.Errorf("expected %+v, got %+v", result, retrieved)
		}

		miss, err := cache.GetPrediction(ctx, tenantID, "other")
		if err != nil || miss != nil {
			t.Errorf("expected miss, got %+v, %v", miss, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50, time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10, time.Minute)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	local := NewLRUCache(10, time.Minute)
	remote := NewLRUCache(10, time.Minute)
	cache := newTwoPhase(local, remote, time.Minute)

	t.Run("WritesBothLayers", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "k", []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if val, _ := local.Get(ctx, tenantID, "k"); string(val) != "v" {
			t.Errorf("expected L1 value, got %q", val)
		}
		if val, _ := remote.Get(ctx, tenantID, "k"); string(val) != "v" {
			t.Errorf("expected L2 value, got %q", val)
		}
	})

	t.Run("PopulatesL1OnL2Hit", func(t *testing.T) {
		_ = remote.Set(ctx, tenantID, "only-remote", []byte("r"), time.Minute)

		val, err := cache.Get(ctx, tenantID, "only-remote")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "r" {
			t.Errorf("expected 'r', got %q", val)
		}
		if val, _ := local.Get(ctx, tenantID, "only-remote"); string(val) != "r" {
			t.Error("expected L1 to be populated")
		}
	})

	t.Run("Prediction", func(t *testing.T) {
		result := &domain.PredictionResult{HybridScore: 0.2, ThresholdUsed: 0.5}
		if err := cache.SetPrediction(ctx, tenantID, "fp", result, time.Minute); err != nil {
			t.Fatalf("SetPrediction failed: %v", err)
		}
		_ = local.Close()

		retrieved, err := cache.GetPrediction(ctx, tenantID, "fp")
		if err != nil {
			t.Fatalf("GetPrediction failed: %v", err)
		}
		if retrieved == nil || retrieved.HybridScore != 0.2 {
			t.Errorf("expected L2 prediction, got %+v", retrieved)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Delete(ctx, tenantID, "k")
		if val, _ := remote.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected L2 delete")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "none"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		ctx := context.Background()
		_ = cache.SetPrediction(ctx, "t", "k", &domain.PredictionResult{}, time.Minute)
		got, err := cache.GetPrediction(ctx, "t", "k")
		if err != nil || got != nil {
			t.Errorf("expected permanent miss, got %+v, %v", got, err)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestBatchPredictions(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("LRUAlignment", func(t *testing.T) {
		c := NewLRUCache(10, time.Minute)
		err := c.SetPredictions(ctx, tenantID, map[string]*domain.PredictionResult{
			"a": {HybridScore: 0.1},
			"c": {HybridScore: 0.3},
		}, time.Minute)
		if err != nil {
			t.Fatalf("SetPredictions failed: %v", err)
		}

		got, err := c.GetPredictions(ctx, tenantID, []string{"a", "b", "c"})
		if err != nil {
			t.Fatalf("GetPredictions failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 slots, got %d", len(got))
		}
		if got[0] == nil || got[0].HybridScore != 0.1 {
			t.Errorf("slot 0: got %+v", got[0])
		}
		if got[1] != nil {
			t.Errorf("slot 1 should miss, got %+v", got[1])
		}
		if got[2] == nil || got[2].HybridScore != 0.3 {
			t.Errorf("slot 2: got %+v", got[2])
		}

		other, _ := c.GetPredictions(ctx, "tenant-002", []string{"a"})
		if other[0] != nil {
			t.Error("batch lookup leaked across tenants")
		}
	})

	t.Run("SingleAndBatchShareEntries", func(t *testing.T) {
		c := NewLRUCache(10, time.Minute)
		_ = c.SetPrediction(ctx, tenantID, "x", &domain.PredictionResult{HybridScore: 0.7}, time.Minute)

		got, _ := c.GetPredictions(ctx, tenantID, []string{"x"})
		if got[0] == nil || got[0].HybridScore != 0.7 {
			t.Errorf("expected single-key entry in batch lookup, got %+v", got[0])
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		c := NewLRUCache(10, time.Minute)
		if _, err := c.GetPredictions(ctx, "", []string{"a"}); err == nil {
			t.Error("expected error for empty tenant")
		}
	})

	t.Run("TwoPhaseFillsL1", func(t *testing.T) {
		local := NewLRUCache(10, time.Minute)
		remote := NewLRUCache(10, time.Minute)
		c := newTwoPhase(local, remote, time.Minute)

		_ = local.SetPrediction(ctx, tenantID, "l1", &domain.PredictionResult{HybridScore: 0.1}, time.Minute)
		_ = remote.SetPrediction(ctx, tenantID, "l2", &domain.PredictionResult{HybridScore: 0.2}, time.Minute)

		got, err := c.GetPredictions(ctx, tenantID, []string{"l1", "l2", "none"})
		if err != nil {
			t.Fatalf("GetPredictions failed: %v", err)
		}
		if got[0] == nil || got[1] == nil || got[2] != nil {
			t.Fatalf("unexpected hits: %+v", got)
		}
		if p, _ := local.GetPrediction(ctx, tenantID, "l2"); p == nil || p.HybridScore != 0.2 {
			t.Errorf("expected L2 hit copied into L1, got %+v", p)
		}
	})

	t.Run("TwoPhaseWritesBoth", func(t *testing.T) {
		local := NewLRUCache(10, time.Minute)
		remote := NewLRUCache(10, time.Minute)
		c := newTwoPhase(local, remote, time.Minute)

		_ = c.SetPredictions(ctx, tenantID, map[string]*domain.PredictionResult{"k": {HybridScore: 0.4}}, time.Hour)
		if p, _ := local.GetPrediction(ctx, tenantID, "k"); p == nil {
			t.Error("missing from L1")
		}
		if p, _ := remote.GetPrediction(ctx, tenantID, "k"); p == nil {
			t.Error("missing from L2")
		}
	})

	t.Run("Nop", func(t *testing.T) {
		var c NopCache
		_ = c.SetPredictions(ctx, tenantID, map[string]*domain.PredictionResult{"k": {}}, time.Minute)
		got, err := c.GetPredictions(ctx, tenantID, []string{"k", "j"})
		if err != nil || len(got) != 2 || got[0] != nil || got[1] != nil {
			t.Errorf("expected two misses, got %+v, %v", got, err)
		}
	})
}
