package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Scaler transforms a raw vector into the space the models were fit on.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

// StandardScaler applies (x - mean) / scale per feature.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// LoadStandardScaler reads a StandardScaler export from path.
func LoadStandardScaler(path string) (*StandardScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &domain.ConfigurationError{Field: "scaler", Reason: err.Error()}
	}
	if len(s.Mean) != len(s.Scale) {
		return nil, &domain.ConfigurationError{
			Field:  "scaler",
			Reason: fmt.Sprintf("mean has %d entries, scale has %d", len(s.Mean), len(s.Scale)),
		}
	}
	return &s, nil
}

// Transform returns the standardized copy of x. A zero scale leaves the
// centered value unscaled.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, &domain.ValidationError{
			Reason: fmt.Sprintf("expected %d features, got %d", len(s.Mean), len(x)),
		}
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

// IdentityScaler returns its input unchanged.
type IdentityScaler struct{}

// Transform returns a copy of x.
func (IdentityScaler) Transform(x []float64) ([]float64, error) {
	return append([]float64(nil), x...), nil
}
