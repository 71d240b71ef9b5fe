package ensemble

import (
	"fmt"
	"math"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Weights holds normalized model weights. Iso + XGB == 1.
type Weights struct {
	Iso float64
	XGB float64
}

// NewWeights normalizes iso and xgb to sum to one.
func NewWeights(iso, xgb float64) (Weights, error) {
	ws, err := NormalizeWeights(iso, xgb)
	if err != nil {
		return Weights{}, err
	}
	return Weights{Iso: ws[0], XGB: ws[1]}, nil
}

// NormalizeWeights returns w_i / sum(w).
func NormalizeWeights(ws ...float64) ([]float64, error) {
	if len(ws) == 0 {
		return nil, &domain.ConfigurationError{Field: "weights", Reason: "at least one weight is required"}
	}

	var sum float64
	for i, w := range ws {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, &domain.ConfigurationError{Field: fmt.Sprintf("weights[%d]", i), Reason: "must be finite"}
		}
		if w < 0 {
			return nil, &domain.ConfigurationError{Field: fmt.Sprintf("weights[%d]", i), Reason: "must be non-negative"}
		}
		sum += w
	}
	if sum <= 0 {
		return nil, &domain.ConfigurationError{Field: "weights", Reason: "sum must be positive"}
	}

	out := make([]float64, len(ws))
	for i, w := range ws {
		out[i] = w / sum
	}
	return out, nil
}

// Combine blends a normalized anomaly score and a class probability.
func Combine(normalized, proba float64, w Weights) float64 {
	return w.Iso*normalized + w.XGB*proba
}

// CombineN blends any number of scores with matching normalized weights.
func CombineN(scores, weights []float64) (float64, error) {
	if len(scores) != len(weights) {
		return 0, &domain.ValidationError{
			Reason: fmt.Sprintf("got %d scores for %d weights", len(scores), len(weights)),
		}
	}
	var h float64
	for i := range scores {
		h += scores[i] * weights[i]
	}
	return h, nil
}

// Decide applies the decision rule: fraud when h >= threshold.
func Decide(h, threshold float64) int {
	if h >= threshold {
		return 1
	}
	return 0
}

// Confidence is the distance-from-boundary measure max(h, 1-h).
func Confidence(h float64) float64 {
	return math.Max(h, 1-h)
}
