package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizerMinMax(t *testing.T) {
	n := NewNormalizer(-0.6, -0.3)
	assert.False(t, n.Degenerate())
	assert.Equal(t, "minmax", n.Policy())

	tests := []struct {
		raw  float64
		want float64
	}{
		{-0.6, 1},
		{-0.3, 0},
		{-0.45, 0.5},
		{-0.9, 1},
		{0.1, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, n.Normalize(tt.raw), 1e-12, "raw=%v", tt.raw)
	}
}

func TestNormalizerLowerRawIsMoreAnomalous(t *testing.T) {
	n := NewNormalizer(-0.8, -0.2)
	prev := -1.0
	for raw := -0.1; raw >= -0.9; raw -= 0.05 {
		got := n.Normalize(raw)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestNormalizerDegenerateRange(t *testing.T) {
	n := NewNormalizer(-0.4, -0.4)
	assert.True(t, n.Degenerate())
	assert.Equal(t, "minmax-degenerate", n.Policy())
	assert.Equal(t, 0.5, n.Normalize(-0.4))
	assert.Equal(t, 0.5, n.Normalize(-10))
}

func TestNormalizerFixed(t *testing.T) {
	n := NewFixedNormalizer()
	assert.True(t, n.Degenerate())
	assert.Equal(t, "fixed", n.Policy())
	assert.InDelta(t, 0.7, n.Normalize(-0.7), 1e-12)
	assert.Equal(t, 0.0, n.Normalize(0.2))
	assert.Equal(t, 1.0, n.Normalize(-3))
}

func TestNormalizerNonFinite(t *testing.T) {
	for _, n := range []*Normalizer{NewNormalizer(-1, 0), NewFixedNormalizer()} {
		assert.Equal(t, 0.5, n.Normalize(math.NaN()))
		assert.Equal(t, 0.5, n.Normalize(math.Inf(1)))
		assert.Equal(t, 0.5, n.Normalize(math.Inf(-1)))
	}
}

func TestNormalizerFromScores(t *testing.T) {
	n := NormalizerFromScores([]float64{-0.5, math.NaN(), -0.2, -0.35})
	min, max, ok := n.Range()
	assert.True(t, ok)
	assert.Equal(t, -0.5, min)
	assert.Equal(t, -0.2, max)

	empty := NormalizerFromScores(nil)
	assert.Equal(t, "fixed", empty.Policy())

	all := n.NormalizeAll([]float64{-0.5, -0.2})
	assert.Equal(t, []float64{1, 0}, all)
}
