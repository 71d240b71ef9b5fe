package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// GradientBoosted evaluates an XGBoost binary:logistic model exported with
// dump_model(dump_format="json").
type GradientBoosted struct {
	BaseScore float64      `json:"base_score"`
	Trees     []*boostNode `json:"trees"`

	baseMargin float64
}

type boostNode struct {
	NodeID         int          `json:"nodeid"`
	Split          string       `json:"split,omitempty"`
	SplitCondition float64      `json:"split_condition,omitempty"`
	Yes            int          `json:"yes,omitempty"`
	No             int          `json:"no,omitempty"`
	Missing        int          `json:"missing,omitempty"`
	Leaf           *float64     `json:"leaf,omitempty"`
	Children       []*boostNode `json:"children,omitempty"`

	feature int
	yes     *boostNode
	no      *boostNode
	missing *boostNode
}

// LoadGradientBoosted reads an XGBoost JSON dump. The file is either a bare
// list of trees or an object with base_score and trees.
func LoadGradientBoosted(path string, featureNames []string) (*GradientBoosted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m := &GradientBoosted{BaseScore: 0.5}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &m.Trees)
	} else {
		err = json.Unmarshal(data, m)
	}
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "xgboost", Reason: err.Error()}
	}

	if err := m.init(featureNames); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *GradientBoosted) init(featureNames []string) error {
	if len(m.Trees) == 0 {
		return &domain.ConfigurationError{Field: "xgboost", Reason: "no trees"}
	}
	if m.BaseScore <= 0 || m.BaseScore >= 1 {
		return &domain.ConfigurationError{Field: "xgboost.base_score", Reason: "must be within (0, 1)"}
	}
	m.baseMargin = math.Log(m.BaseScore / (1 - m.BaseScore))

	index := make(map[string]int, len(featureNames))
	for i, name := range featureNames {
		index[name] = i
	}
	for i, root := range m.Trees {
		if err := root.link(index); err != nil {
			return &domain.ConfigurationError{Field: fmt.Sprintf("xgboost.trees[%d]", i), Reason: err.Error()}
		}
	}
	return nil
}

// link resolves split names to vector indices and child ids to pointers.
func (n *boostNode) link(index map[string]int) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if n.Leaf != nil {
		return nil
	}

	feature, err := resolveFeature(n.Split, index)
	if err != nil {
		return fmt.Errorf("node %d: %w", n.NodeID, err)
	}
	n.feature = feature

	byID := make(map[int]*boostNode, len(n.Children))
	for _, c := range n.Children {
		if c == nil {
			return fmt.Errorf("node %d: nil child", n.NodeID)
		}
		byID[c.NodeID] = c
	}
	var ok bool
	if n.yes, ok = byID[n.Yes]; !ok {
		return fmt.Errorf("node %d: yes child %d not found", n.NodeID, n.Yes)
	}
	if n.no, ok = byID[n.No]; !ok {
		return fmt.Errorf("node %d: no child %d not found", n.NodeID, n.No)
	}
	if n.missing, ok = byID[n.Missing]; !ok {
		n.missing = n.yes
	}

	for _, c := range n.Children {
		if err := c.link(index); err != nil {
			return err
		}
	}
	return nil
}

// resolveFeature accepts a training feature name or XGBoost's f<i> alias.
func resolveFeature(split string, index map[string]int) (int, error) {
	if i, ok := index[split]; ok {
		return i, nil
	}
	if rest, ok := strings.CutPrefix(split, "f"); ok {
		if i, err := strconv.Atoi(rest); err == nil && i >= 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}

// Margin returns the raw additive score before the logistic link.
func (m *GradientBoosted) Margin(x []float64) (float64, error) {
	margin := m.baseMargin
	for _, root := range m.Trees {
		n := root
		for n.Leaf == nil {
			if n.feature >= len(x) {
				return 0, &domain.ValidationError{Reason: fmt.Sprintf("vector has %d features, tree needs index %d", len(x), n.feature)}
			}
			v := x[n.feature]
			switch {
			case math.IsNaN(v):
				n = n.missing
			case v < n.SplitCondition:
				n = n.yes
			default:
				n = n.no
			}
		}
		margin += *n.Leaf
	}
	return margin, nil
}

// PredictProba returns [P(legit), P(fraud)].
func (m *GradientBoosted) PredictProba(x []float64) ([2]float64, error) {
	margin, err := m.Margin(x)
	if err != nil {
		return [2]float64{}, err
	}
	p := sigmoid(margin)
	return [2]float64{1 - p, p}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
