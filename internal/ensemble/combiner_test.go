package ensemble

import (
	"math"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWeights(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"already normalized", []float64{0.3, 0.7}, []float64{0.3, 0.7}},
		{"scaled", []float64{2, 6}, []float64{0.25, 0.75}},
		{"one zero", []float64{0, 5}, []float64{0, 1}},
		{"three models", []float64{1, 1, 2}, []float64{0.25, 0.25, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeWeights(tt.in...)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			var sum float64
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-12)
				sum += got[i]
			}
			assert.InDelta(t, 1.0, sum, 1e-12)
		})
	}
}

func TestNormalizeWeightsRejects(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
	}{
		{"empty", nil},
		{"zero sum", []float64{0, 0}},
		{"negative", []float64{-0.2, 1.2}},
		{"nan", []float64{math.NaN(), 1}},
		{"inf", []float64{math.Inf(1), 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeWeights(tt.in...)
			assert.True(t, domain.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestCombine(t *testing.T) {
	w, err := NewWeights(4, 6)
	require.NoError(t, err)
	assert.InDelta(t, 0.07, Combine(0.1, 0.05, w), 1e-12)
	assert.Equal(t, 0.0, Combine(0, 0, w))
	assert.InDelta(t, 1.0, Combine(1, 1, w), 1e-12)
}

func TestCombineN(t *testing.T) {
	h, err := CombineN([]float64{0.1, 0.05}, []float64{0.4, 0.6})
	require.NoError(t, err)
	assert.InDelta(t, 0.07, h, 1e-12)

	_, err = CombineN([]float64{0.1}, []float64{0.4, 0.6})
	assert.True(t, domain.IsValidation(err))
}

func TestDecideAndConfidence(t *testing.T) {
	assert.Equal(t, 1, Decide(0.5, 0.5))
	assert.Equal(t, 0, Decide(0.4999, 0.5))
	assert.Equal(t, 1, Decide(0, 0))

	assert.Equal(t, 0.5, Confidence(0.5))
	assert.InDelta(t, 0.9, Confidence(0.1), 1e-12)
	assert.InDelta(t, 0.8, Confidence(0.8), 1e-12)
}
