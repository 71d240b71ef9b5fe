package ensemble

import (
	"math"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid(t *testing.T) {
	g := Grid(DefaultStep)
	require.Len(t, g, 101)
	assert.Equal(t, 0.0, g[0])
	assert.Equal(t, 0.5, g[50])
	assert.Equal(t, 1.0, g[100])
	for i := 1; i < len(g); i++ {
		assert.Greater(t, g[i], g[i-1])
	}
}

func TestGridEndsAtOne(t *testing.T) {
	assert.Equal(t, []float64{0, 0.3, 0.6, 0.9, 1}, Grid(0.3))
	assert.Equal(t, []float64{0, 1}, Grid(1))
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, Grid(0.25))
}

func TestGridClampsStep(t *testing.T) {
	assert.Len(t, Grid(1e-300), 10001)
	assert.Len(t, Grid(1e-7), 10001)
	assert.Len(t, Grid(0), 10001)
	assert.Len(t, Grid(5), 2)
}

func TestValidateStep(t *testing.T) {
	assert.NoError(t, ValidateStep(DefaultStep))
	assert.NoError(t, ValidateStep(MinStep))
	assert.NoError(t, ValidateStep(1))

	for _, step := range []float64{0, -0.1, 1e-9, 1e-300, 1.5, math.NaN()} {
		err := ValidateStep(step)
		assert.True(t, domain.IsConfiguration(err), "step %v", step)
	}
}

func TestOptimizeFindsBestF1(t *testing.T) {
	scores := []float64{0.05, 0.1, 0.2, 0.35, 0.6, 0.8, 0.9}
	labels := []int{0, 0, 0, 0, 1, 1, 1}

	m, err := Optimize(scores, labels)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.F1)
	assert.Equal(t, 1.0, m.Precision)
	assert.Equal(t, 1.0, m.Recall)
	// Every grid point in (0.35, 0.6] separates the classes; the lowest wins.
	assert.InDelta(t, 0.36, m.Threshold, 1e-9)
	assert.Equal(t, 101, m.Evaluated)
	assert.Equal(t, 3, m.TruePositives)
	assert.Equal(t, 4, m.TrueNegatives)
}

func TestOptimizeTieGoesToLowerThreshold(t *testing.T) {
	scores := []float64{0.1, 0.6, 0.7, 0.8}
	labels := []int{0, 0, 1, 1}

	for _, candidates := range [][]float64{{0.3, 0.5}, {0.5, 0.3}} {
		m, err := Optimize(scores, labels, WithCandidates(candidates))
		require.NoError(t, err)
		assert.InDelta(t, 0.8, m.F1, 1e-12)
		assert.Equal(t, 0.3, m.Threshold)
		assert.Equal(t, 2, m.Evaluated)
	}
}

func TestOptimizeAllNegativeLabels(t *testing.T) {
	scores := []float64{0.2, 0.4, 0.9}
	labels := []int{0, 0, 0}

	m, err := Optimize(scores, labels)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Threshold)
	assert.Equal(t, 0.0, m.Precision)
	assert.Equal(t, 0.0, m.Recall)
	assert.Equal(t, 0.0, m.F1)

	m, err = Optimize(scores, labels, WithCandidates([]float64{0.7, 0.25}))
	require.NoError(t, err)
	assert.Equal(t, 0.25, m.Threshold)
}

func TestOptimizeObservedCandidates(t *testing.T) {
	scores := []float64{0.42, 0.13, 0.42, 0.77}
	labels := []int{0, 0, 1, 1}

	m, err := Optimize(scores, labels, WithObservedCandidates())
	require.NoError(t, err)
	assert.Equal(t, 3, m.Evaluated)
	assert.Equal(t, 0.42, m.Threshold)
	assert.InDelta(t, 0.8, m.F1, 1e-12)
}

func TestOptimizeFBeta(t *testing.T) {
	scores := []float64{0.2, 0.3, 0.45, 0.9}
	labels := []int{0, 1, 0, 1}

	f1, err := Optimize(scores, labels, WithCandidates([]float64{0.25, 0.5}))
	require.NoError(t, err)
	assert.Equal(t, "f1", ObjectiveF1.Name)

	f2, err := Optimize(scores, labels,
		WithCandidates([]float64{0.25, 0.5}),
		WithObjective(ObjectiveFBeta(2)))
	require.NoError(t, err)
	assert.Equal(t, 0.25, f2.Threshold)
	assert.InDelta(t, 5*(2.0/3.0)/(4*(2.0/3.0)+1), f2.Objective, 1e-12)
	assert.Equal(t, 0.25, f1.Threshold)
}

func TestOptimizeValidation(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		labels []int
		opts   []Option
	}{
		{"length mismatch", []float64{0.1, 0.2}, []int{0}, nil},
		{"empty", nil, nil, nil},
		{"bad label", []float64{0.1, 0.2}, []int{0, 2}, nil},
		{"nan score", []float64{math.NaN(), 0.2}, []int{0, 1}, nil},
		{"candidate above one", []float64{0.1}, []int{1}, []Option{WithCandidates([]float64{1.5})}},
		{"candidate below zero", []float64{0.1}, []int{1}, []Option{WithCandidates([]float64{-0.1})}},
		{"empty candidates", []float64{0.1}, []int{1}, []Option{WithCandidates([]float64{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Optimize(tt.scores, tt.labels, tt.opts...)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
}

func TestEvaluateConfusionMatrix(t *testing.T) {
	m := Evaluate([]float64{0.1, 0.5, 0.7, 0.2}, []int{1, 1, 0, 0}, 0.5)
	assert.Equal(t, 1, m.TruePositives)
	assert.Equal(t, 1, m.FalsePositives)
	assert.Equal(t, 1, m.FalseNegatives)
	assert.Equal(t, 1, m.TrueNegatives)
	assert.Equal(t, 0.5, m.Precision)
	assert.Equal(t, 0.5, m.Recall)
	assert.Equal(t, 0.5, m.F1)
}
