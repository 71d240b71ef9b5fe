package feedback

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fb := &domain.Feedback{PredictionID: "p-1", TenantID: "t1", HybridScore: 0.42, Label: 1}
	require.NoError(t, s.Save(ctx, fb))
	assert.False(t, fb.CreatedAt.IsZero())

	got, err := s.Get(ctx, "t1", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 0.42, got.HybridScore)
	assert.Equal(t, 1, got.Label)

	_, err = s.Get(ctx, "t2", "p-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreSaveReplacesLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &domain.Feedback{PredictionID: "p-1", TenantID: "t1", HybridScore: 0.9, Label: 1}))
	require.NoError(t, s.Save(ctx, &domain.Feedback{PredictionID: "p-1", TenantID: "t1", HybridScore: 0.9, Label: 0}))

	n, err := s.Count(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "t1", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Label)
}

func TestStoreRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Save(ctx, &domain.Feedback{TenantID: "t1", Label: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = s.Save(ctx, &domain.Feedback{PredictionID: "p", TenantID: "t1", Label: 2})
	assert.True(t, domain.IsValidation(err))
}

func TestStoreListIsTenantScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, fb := range []*domain.Feedback{
		{PredictionID: "a", TenantID: "t1", HybridScore: 0.1, Label: 0},
		{PredictionID: "b", TenantID: "t1", HybridScore: 0.8, Label: 1},
		{PredictionID: "c", TenantID: "t10", HybridScore: 0.5, Label: 1},
	} {
		require.NoError(t, s.Save(ctx, fb))
	}

	records, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].PredictionID)
	assert.Equal(t, "b", records[1].PredictionID)

	scores, labels := Samples(records, ensemble.Weights{Iso: 0.5, XGB: 0.5})
	assert.Equal(t, []float64{0.1, 0.8}, scores)
	assert.Equal(t, []int{0, 1}, labels)

	n, err := s.Count(ctx, "t10")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	empty, err := s.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSamplesReblendsComponents(t *testing.T) {
	records := []*domain.Feedback{
		{PredictionID: "a", HybridScore: 0.55, AnomalyNormalized: 0.2, ClassifierProbability: 0.9, ConfigVersion: 1, Label: 1},
		{PredictionID: "b", HybridScore: 0.3, Label: 0},
	}

	scores, labels := Samples(records, ensemble.Weights{Iso: 1, XGB: 0})
	assert.InDelta(t, 0.2, scores[0], 1e-12)
	assert.Equal(t, 0.3, scores[1])
	assert.Equal(t, []int{1, 0}, labels)
}

func TestStoreConcurrentSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fb := &domain.Feedback{
				PredictionID: string(rune('a' + i)),
				TenantID:     "t1",
				HybridScore:  float64(i) / 20,
				Label:        i % 2,
			}
			assert.NoError(t, s.Save(ctx, fb))
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}
