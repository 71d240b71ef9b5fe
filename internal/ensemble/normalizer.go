package ensemble

import (
	"log/slog"
	"math"
	"slices"
)

// neutralScore is returned for inputs that carry no ranking information.
const neutralScore = 0.5

// Normalizer maps raw anomaly scores, where lower means more anomalous,
// onto [0,1] where higher means more anomalous.
type Normalizer struct {
	min, max   float64
	hasRef     bool
	degenerate bool
}

// NewNormalizer builds a min-max normalizer over a reference range of
// training scores. A range with min == max maps every input to 0.5.
func NewNormalizer(min, max float64) *Normalizer {
	if min > max {
		min, max = max, min
	}
	return &Normalizer{min: min, max: max, hasRef: true, degenerate: min == max}
}

// NormalizerFromScores derives the reference range from observed training
// scores. Non-finite scores are skipped.
func NormalizerFromScores(scores []float64) *Normalizer {
	finite := make([]float64, 0, len(scores))
	for _, s := range scores {
		if !math.IsNaN(s) && !math.IsInf(s, 0) {
			finite = append(finite, s)
		}
	}
	if len(finite) == 0 {
		return NewFixedNormalizer()
	}
	return NewNormalizer(slices.Min(finite), slices.Max(finite))
}

// NewFixedNormalizer returns the reference-free transform clamp(-raw, 0, 1).
// It maps isolation forest score_samples output onto the forest's own
// anomaly score.
func NewFixedNormalizer() *Normalizer {
	return &Normalizer{degenerate: true}
}

// Normalize returns the normalized anomaly score for raw.
func (n *Normalizer) Normalize(raw float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		slog.Warn("non-finite anomaly score, using neutral value", "raw", raw, "normalized", neutralScore)
		return neutralScore
	}
	if !n.hasRef {
		return clamp01(-raw)
	}
	if n.max == n.min {
		return neutralScore
	}
	return clamp01((n.max - raw) / (n.max - n.min))
}

// NormalizeAll normalizes a slice of raw scores.
func (n *Normalizer) NormalizeAll(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, r := range raw {
		out[i] = n.Normalize(r)
	}
	return out
}

// Degenerate reports whether the normalizer lacks a usable reference range.
func (n *Normalizer) Degenerate() bool { return n.degenerate }

// Range returns the reference range and whether one is set.
func (n *Normalizer) Range() (min, max float64, ok bool) {
	return n.min, n.max, n.hasRef
}

// Policy names the active normalization policy.
func (n *Normalizer) Policy() string {
	switch {
	case !n.hasRef:
		return "fixed"
	case n.degenerate:
		return "minmax-degenerate"
	default:
		return "minmax"
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
