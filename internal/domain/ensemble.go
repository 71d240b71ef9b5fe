package domain

import (
	"math"
	"time"
)

// EnsembleConfig is the persisted ensemble record produced at training time.
// It is never mutated in place; weight, threshold and calibration updates
// produce a new value with a higher Version.
type EnsembleConfig struct {
	IsoWeight float64            `json:"iso_weight" yaml:"iso_weight"`
	XGBWeight float64            `json:"xgb_weight" yaml:"xgb_weight"`
	Threshold float64            `json:"threshold" yaml:"threshold"`
	F1Score   float64            `json:"f1_score" yaml:"f1_score"`
	Precision float64            `json:"precision" yaml:"precision"`
	Recall    float64            `json:"recall" yaml:"recall"`
	Metrics   map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	Version   int64        `json:"version" yaml:"version"`
	Source    ConfigSource `json:"source,omitempty" yaml:"source,omitempty"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
}

// ConfigSource records which operation produced an EnsembleConfig.
type ConfigSource string

const (
	ConfigSourceOverride    ConfigSource = "override"
	ConfigSourceTraining    ConfigSource = "training"
	ConfigSourceUpdate      ConfigSource = "update"
	ConfigSourceCalibration ConfigSource = "calibration"
)

// EnsembleOverrides replace parts of the loaded ensemble config at startup.
// Nil fields keep the loaded value.
type EnsembleOverrides struct {
	IsoWeight *float64 `json:"iso_weight,omitempty" yaml:"iso_weight"`
	XGBWeight *float64 `json:"xgb_weight,omitempty" yaml:"xgb_weight"`
	Threshold *float64 `json:"threshold,omitempty" yaml:"threshold"`
}

// Empty reports whether no field is set.
func (o EnsembleOverrides) Empty() bool {
	return o.IsoWeight == nil && o.XGBWeight == nil && o.Threshold == nil
}

// Apply returns cfg with the set fields replaced. Weights are not normalized.
func (o EnsembleOverrides) Apply(cfg EnsembleConfig) EnsembleConfig {
	if o.IsoWeight != nil {
		cfg.IsoWeight = *o.IsoWeight
	}
	if o.XGBWeight != nil {
		cfg.XGBWeight = *o.XGBWeight
	}
	if o.Threshold != nil {
		cfg.Threshold = *o.Threshold
	}
	return cfg
}

// Validate checks the set fields. Setting both weights to zero is an error;
// a single zero weight is allowed.
func (o EnsembleOverrides) Validate() error {
	return o.Apply(EnsembleConfig{IsoWeight: 1, XGBWeight: 1, Threshold: 0.5}).Validate()
}

// Validate checks weights and threshold. It does not normalize.
func (c EnsembleConfig) Validate() error {
	weights := []struct {
		field string
		value float64
	}{{"iso_weight", c.IsoWeight}, {"xgb_weight", c.XGBWeight}}
	for _, w := range weights {
		if math.IsNaN(w.value) || math.IsInf(w.value, 0) || w.value < 0 {
			return &ConfigurationError{Field: w.field, Reason: "must be a finite non-negative number"}
		}
	}
	if c.IsoWeight+c.XGBWeight <= 0 {
		return &ConfigurationError{Field: "weights", Reason: "sum must be positive"}
	}
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return &ConfigurationError{Field: "threshold", Reason: "must be within [0, 1]"}
	}
	return nil
}

// ThresholdMetrics are the classification metrics at a chosen threshold.
type ThresholdMetrics struct {
	Threshold      float64 `json:"threshold"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Objective      float64 `json:"objective"`
	TruePositives  int     `json:"tp"`
	FalsePositives int     `json:"fp"`
	TrueNegatives  int     `json:"tn"`
	FalseNegatives int     `json:"fn"`
	Evaluated      int     `json:"candidates_evaluated"`
}

// GlobalTenantID owns the process-wide ensemble config history. The active
// config is shared by every tenant.
const GlobalTenantID = "*"
