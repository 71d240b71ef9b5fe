// Package features validates prediction inputs and turns them into the
// fixed-order vectors the models were trained on.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// DefaultFeatureNames returns the card-transaction column order:
// Time, V1..V28, Amount.
func DefaultFeatureNames() []string {
	names := make([]string, 0, 30)
	names = append(names, "Time")
	for i := 1; i <= 28; i++ {
		names = append(names, "V"+strconv.Itoa(i))
	}
	return append(names, "Amount")
}

// Schema owns the feature order and knows which names are engineered.
type Schema struct {
	names    []string
	required []string
	derived  []string
	deriver  *Deriver
}

// NewSchema builds a schema for the registry's feature order. A name is
// derived when a builtin or configured derivation exists for it; every other
// name must be supplied by the caller.
func NewSchema(names []string, extra []domain.Derivation) (*Schema, error) {
	if len(names) == 0 {
		return nil, &domain.ConfigurationError{Field: "feature_names", Reason: "must not be empty"}
	}

	defs := make(map[string]domain.Derivation)
	for _, d := range BuiltinDerivations() {
		defs[d.Name] = d
	}
	for _, d := range extra {
		defs[d.Name] = d
	}

	seen := make(map[string]bool, len(names))
	var required, derived []string
	for _, name := range names {
		if seen[name] {
			return nil, &domain.ConfigurationError{Field: "feature_names", Reason: "duplicate feature " + name}
		}
		seen[name] = true
		if _, ok := defs[name]; ok {
			derived = append(derived, name)
		} else {
			required = append(required, name)
		}
	}

	s := &Schema{
		names:    append([]string(nil), names...),
		required: required,
		derived:  derived,
	}

	if len(derived) > 0 {
		deriver, err := NewDeriver(required)
		if err != nil {
			return nil, err
		}
		for _, name := range derived {
			if err := deriver.Load(defs[name]); err != nil {
				return nil, err
			}
		}
		s.deriver = deriver
	}

	return s, nil
}

// Names returns the full feature order.
func (s *Schema) Names() []string { return append([]string(nil), s.names...) }

// Required returns the raw features a caller must supply.
func (s *Schema) Required() []string { return append([]string(nil), s.required...) }

// Derived returns the engineered features computed when absent.
func (s *Schema) Derived() []string { return append([]string(nil), s.derived...) }

// Len returns the vector length.
func (s *Schema) Len() int { return len(s.names) }

// Vectorize validates input and returns the vector in schema order together
// with the resolved named values. Extra keys are ignored. Missing raw
// features are reported together in one ValidationError.
func (s *Schema) Vectorize(input map[string]any) ([]float64, map[string]float64, error) {
	if input == nil {
		return nil, nil, &domain.ValidationError{Reason: "features are required"}
	}

	values := make(map[string]float64, len(s.names))
	var missing, invalid []string

	for _, name := range s.required {
		raw, ok := input[name]
		if !ok || raw == nil {
			missing = append(missing, name)
			continue
		}
		v, err := toNumber(raw)
		if err != nil {
			invalid = append(invalid, name)
			continue
		}
		values[name] = v
	}

	if len(missing) > 0 {
		return nil, nil, &domain.ValidationError{Fields: missing, Reason: "missing required features"}
	}
	if len(invalid) > 0 {
		return nil, nil, &domain.ValidationError{Fields: invalid, Reason: "features must be finite numbers"}
	}

	if err := s.resolveDerived(input, values); err != nil {
		return nil, nil, err
	}

	vec := make([]float64, len(s.names))
	for i, name := range s.names {
		vec[i] = values[name]
	}
	return vec, values, nil
}

// resolveDerived fills engineered features. A caller-supplied value wins over
// the derivation.
func (s *Schema) resolveDerived(input map[string]any, values map[string]float64) error {
	if len(s.derived) == 0 {
		return nil
	}

	var pending bool
	var invalid []string
	for _, name := range s.derived {
		raw, ok := input[name]
		if !ok || raw == nil {
			pending = true
			continue
		}
		v, err := toNumber(raw)
		if err != nil {
			invalid = append(invalid, name)
			continue
		}
		values[name] = v
	}
	if len(invalid) > 0 {
		return &domain.ValidationError{Fields: invalid, Reason: "features must be finite numbers"}
	}
	if !pending {
		return nil
	}

	computed, err := s.deriver.Derive(values)
	if err != nil {
		return &domain.ValidationError{Reason: err.Error()}
	}
	for _, name := range s.derived {
		if _, ok := values[name]; ok {
			continue
		}
		v := computed[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &domain.ValidationError{Fields: []string{name}, Reason: "engineered feature is not finite"}
		}
		values[name] = v
	}
	return nil
}

func toNumber(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case bool:
		if n {
			f = 1
		}
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return f, nil
}
