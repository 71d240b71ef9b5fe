package features

import (
	"math"
	"sync"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriverLoad(t *testing.T) {
	d, err := NewDeriver([]string{"Amount", "V1", "V2"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		def     domain.Derivation
		wantErr bool
	}{
		{"double expression", domain.Derivation{Name: "half", Expression: "Amount / 2.0"}, false},
		{"bool expression", domain.Derivation{Name: "big", Expression: "Amount > 100.0"}, false},
		{"list aggregate", domain.Derivation{Name: "spread", Expression: "max_abs(v)"}, false},
		{"unknown variable", domain.Derivation{Name: "bad", Expression: "Balance > 1.0"}, true},
		{"string output", domain.Derivation{Name: "str", Expression: `"fraud"`}, true},
		{"syntax error", domain.Derivation{Name: "syntax", Expression: "Amount >"}, true},
		{"empty expression", domain.Derivation{Name: "empty"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Load(tt.def)
			if tt.wantErr {
				assert.True(t, domain.IsConfiguration(err), "expected configuration error, got %v", err)
				assert.False(t, d.Has(tt.def.Name))
				return
			}
			assert.NoError(t, err)
			assert.True(t, d.Has(tt.def.Name))
		})
	}

	assert.Equal(t, []string{"half", "big", "spread"}, d.Names())
}

func TestDeriverDerive(t *testing.T) {
	d, err := NewDeriver([]string{"Amount", "V1", "V2"})
	require.NoError(t, err)
	for _, def := range BuiltinDerivations() {
		require.NoError(t, d.Load(def), def.Name)
	}

	out, err := d.Derive(map[string]float64{"Amount": 0, "V1": 3, "V2": -1})
	require.NoError(t, err)

	assert.InDelta(t, -88.0/250.0, out[AmountZScore], 1e-12)
	assert.Equal(t, 0.0, out[AmountLog])
	assert.Equal(t, 0.0, out[HighValue])
	assert.InDelta(t, 3/math.Abs(-1+0.0001), out[V1V2Ratio], 1e-9)
	assert.InDelta(t, 4.0, out[VarianceAll], 1e-12)
	assert.Equal(t, 3.0, out[MaxAbsV])
	assert.Equal(t, 2.0, out[MeanAbsV])
}

func TestDeriverConcurrent(t *testing.T) {
	d, err := NewDeriver([]string{"Amount"})
	require.NoError(t, err)
	require.NoError(t, d.Load(domain.Derivation{Name: "double", Expression: "Amount * 2.0"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := d.Derive(map[string]float64{"Amount": float64(i)})
			assert.NoError(t, err)
			assert.Equal(t, float64(2*i), out["double"])
		}(i)
	}
	wg.Wait()
}

func TestAggregates(t *testing.T) {
	assert.Equal(t, 0.0, variance(nil))
	assert.Equal(t, 0.0, meanAbs(nil))
	assert.Equal(t, 0.0, maxAbs(nil))
	assert.InDelta(t, 1.25, variance([]float64{1, 2, 3, 4}), 1e-12)
	assert.Equal(t, 5.0, maxAbs([]float64{1, -5, 3}))
}
