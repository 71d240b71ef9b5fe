package ensemble

import (
	"fmt"
	"math"
	"slices"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Grid spacing bounds. MinStep caps a grid at 10001 candidates.
const (
	DefaultStep = 0.01
	MinStep     = 1e-4
)

// ValidateStep reports whether step can build a candidate grid.
func ValidateStep(step float64) error {
	if math.IsNaN(step) || step < MinStep || step > 1 {
		return &domain.ConfigurationError{
			Field:  "step",
			Reason: fmt.Sprintf("must be within [%g, 1]", MinStep),
		}
	}
	return nil
}

// Objective scores a confusion matrix. Higher is better.
type Objective struct {
	Name string
	Fn   func(precision, recall float64) float64
}

// ObjectiveF1 is the harmonic mean of precision and recall.
var ObjectiveF1 = ObjectiveFBeta(1)

// ObjectiveFBeta weights recall beta times as much as precision.
func ObjectiveFBeta(beta float64) Objective {
	b2 := beta * beta
	name := "f1"
	if beta != 1 {
		name = fmt.Sprintf("f%g", beta)
	}
	return Objective{
		Name: name,
		Fn: func(p, r float64) float64 {
			if p+r == 0 {
				return 0
			}
			return (1 + b2) * p * r / (b2*p + r)
		},
	}
}

type optimizerOptions struct {
	candidates []float64
	observed   bool
	objective  Objective
}

// Option configures Optimize.
type Option func(*optimizerOptions)

// WithCandidates evaluates an explicit threshold set.
func WithCandidates(c []float64) Option {
	return func(o *optimizerOptions) {
		o.candidates = make([]float64, len(c))
		copy(o.candidates, c)
		o.observed = false
	}
}

// WithObservedCandidates evaluates every unique observed score.
func WithObservedCandidates() Option {
	return func(o *optimizerOptions) {
		o.candidates = nil
		o.observed = true
	}
}

// WithObjective replaces the F1 objective.
func WithObjective(obj Objective) Option {
	return func(o *optimizerOptions) {
		o.objective = obj
	}
}

// Grid returns thresholds 0, step, 2*step, ... and always ends at 1. A step
// outside [MinStep, 1] is clamped into that range.
func Grid(step float64) []float64 {
	switch {
	case math.IsNaN(step) || step < MinStep:
		step = MinStep
	case step > 1:
		step = 1
	}

	n := int(math.Floor(1/step + 1e-9))
	out := make([]float64, 0, n+2)
	for i := 0; i <= n; i++ {
		out = append(out, math.Min(1, math.Round(float64(i)*step*1e9)/1e9))
	}
	if out[len(out)-1] < 1 {
		out = append(out, 1)
	}
	return out
}

// Optimize finds the threshold maximizing the objective over labeled scores.
// Candidates are scanned in ascending order and only a strictly better value
// replaces the incumbent, so ties go to the lower threshold. With no positive
// labels every metric is zero and the lowest candidate is returned.
func Optimize(scores []float64, labels []int, opts ...Option) (domain.ThresholdMetrics, error) {
	o := optimizerOptions{objective: ObjectiveF1}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateSamples(scores, labels); err != nil {
		return domain.ThresholdMetrics{}, err
	}

	candidates, err := o.resolveCandidates(scores)
	if err != nil {
		return domain.ThresholdMetrics{}, err
	}

	best := domain.ThresholdMetrics{Threshold: candidates[0], Objective: math.Inf(-1)}
	for _, t := range candidates {
		m := Evaluate(scores, labels, t)
		m.Objective = o.objective.Fn(m.Precision, m.Recall)
		if m.Objective > best.Objective {
			best = m
		}
	}
	best.Evaluated = len(candidates)
	return best, nil
}

// Evaluate computes the confusion matrix and metrics at threshold t.
func Evaluate(scores []float64, labels []int, t float64) domain.ThresholdMetrics {
	m := domain.ThresholdMetrics{Threshold: t}
	for i, s := range scores {
		pred := Decide(s, t)
		switch {
		case pred == 1 && labels[i] == 1:
			m.TruePositives++
		case pred == 1 && labels[i] == 0:
			m.FalsePositives++
		case pred == 0 && labels[i] == 1:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}
	if m.TruePositives+m.FalsePositives > 0 {
		m.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		m.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	m.F1 = ObjectiveF1.Fn(m.Precision, m.Recall)
	return m
}

func validateSamples(scores []float64, labels []int) error {
	if len(scores) != len(labels) {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("scores and labels differ in length: %d != %d", len(scores), len(labels)),
		}
	}
	if len(scores) == 0 {
		return &domain.ValidationError{Reason: "no samples to optimize over"}
	}
	for i := range scores {
		if math.IsNaN(scores[i]) {
			return &domain.ValidationError{Fields: []string{fmt.Sprintf("scores[%d]", i)}, Reason: "score is NaN"}
		}
		if labels[i] != 0 && labels[i] != 1 {
			return &domain.ValidationError{Fields: []string{fmt.Sprintf("labels[%d]", i)}, Reason: "label must be 0 or 1"}
		}
	}
	return nil
}

func (o optimizerOptions) resolveCandidates(scores []float64) ([]float64, error) {
	var c []float64
	switch {
	case o.observed:
		c = append(c, scores...)
	case o.candidates != nil:
		c = append(c, o.candidates...)
	default:
		return Grid(DefaultStep), nil
	}

	for i, t := range c {
		if math.IsNaN(t) || t < 0 || t > 1 {
			if o.observed {
				return nil, &domain.ValidationError{
					Fields: []string{fmt.Sprintf("scores[%d]", i)},
					Reason: "observed score outside [0,1] cannot be a threshold",
				}
			}
			return nil, &domain.ValidationError{
				Fields: []string{fmt.Sprintf("candidates[%d]", i)},
				Reason: "threshold candidate must be in [0,1]",
			}
		}
	}
	if len(c) == 0 {
		return nil, &domain.ValidationError{Reason: "candidate set is empty"}
	}

	slices.Sort(c)
	return slices.Compact(c), nil
}
