package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// eulerGamma is the Euler-Mascheroni constant used in the harmonic estimate.
const eulerGamma = 0.5772156649015329

// IsolationForest scores vectors with an exported isolation forest. Score
// matches scikit-learn's score_samples: -2^(-E[h(x)]/c(n)).
type IsolationForest struct {
	MaxSamples int             `json:"max_samples"`
	Trees      []isolationTree `json:"trees"`

	norm float64
}

type isolationTree struct {
	// Features maps node feature indices back to vector positions when the
	// tree was fit on a feature subset.
	Features []int           `json:"features,omitempty"`
	Nodes    []isolationNode `json:"nodes"`
}

type isolationNode struct {
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	NSamples  int     `json:"n_samples"`
}

// LoadIsolationForest reads an isolation forest export from path.
func LoadIsolationForest(path string) (*IsolationForest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f IsolationForest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &domain.ConfigurationError{Field: "isolation_forest", Reason: err.Error()}
	}
	if err := f.init(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *IsolationForest) init() error {
	if len(f.Trees) == 0 {
		return &domain.ConfigurationError{Field: "isolation_forest", Reason: "no trees"}
	}
	if f.MaxSamples < 2 {
		return &domain.ConfigurationError{Field: "isolation_forest.max_samples", Reason: "must be at least 2"}
	}
	for i, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return &domain.ConfigurationError{Field: fmt.Sprintf("isolation_forest.trees[%d]", i), Reason: "no nodes"}
		}
		for j, n := range t.Nodes {
			if n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) || (n.Left >= 0 && n.Left <= j) || (n.Right >= 0 && n.Right <= j) {
				return &domain.ConfigurationError{
					Field:  fmt.Sprintf("isolation_forest.trees[%d].nodes[%d]", i, j),
					Reason: "child index out of order",
				}
			}
		}
	}
	f.norm = averagePathLength(float64(f.MaxSamples))
	return nil
}

// Score returns the negated anomaly score. Lower is more anomalous.
func (f *IsolationForest) Score(x []float64) (float64, error) {
	var total float64
	for i := range f.Trees {
		h, err := f.Trees[i].pathLength(x)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		total += h
	}
	mean := total / float64(len(f.Trees))
	return -math.Pow(2, -mean/f.norm), nil
}

func (t *isolationTree) pathLength(x []float64) (float64, error) {
	idx, depth := 0, 0
	for {
		n := t.Nodes[idx]
		if n.Left < 0 || n.Right < 0 {
			return float64(depth) + averagePathLength(float64(n.NSamples)), nil
		}
		feature := n.Feature
		if len(t.Features) > 0 {
			if feature < 0 || feature >= len(t.Features) {
				return 0, fmt.Errorf("feature %d outside subset", feature)
			}
			feature = t.Features[feature]
		}
		if feature < 0 || feature >= len(x) {
			return 0, &domain.ValidationError{Reason: fmt.Sprintf("vector has %d features, tree needs index %d", len(x), feature)}
		}
		if x[feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the mean unsuccessful search length in a
// binary search tree of n points.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	default:
		return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
	}
}
