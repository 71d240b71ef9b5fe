package features

import (
	"math"
	"strconv"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawInput(amount float64) map[string]any {
	in := map[string]any{"Time": 0.0, "Amount": amount}
	for i := 1; i <= 28; i++ {
		in["V"+strconv.Itoa(i)] = 0.0
	}
	return in
}

func TestDefaultFeatureNames(t *testing.T) {
	names := DefaultFeatureNames()
	require.Len(t, names, 30)
	assert.Equal(t, "Time", names[0])
	assert.Equal(t, "V1", names[1])
	assert.Equal(t, "V28", names[28])
	assert.Equal(t, "Amount", names[29])
}

func TestSchemaVectorize(t *testing.T) {
	schema, err := NewSchema(DefaultFeatureNames(), nil)
	require.NoError(t, err)
	assert.Empty(t, schema.Derived())

	t.Run("OrderFollowsSchema", func(t *testing.T) {
		in := rawInput(50)
		in["V3"] = 1.5
		vec, values, err := schema.Vectorize(in)
		require.NoError(t, err)
		require.Len(t, vec, 30)
		assert.Equal(t, 1.5, vec[3])
		assert.Equal(t, 50.0, vec[29])
		assert.Equal(t, 50.0, values["Amount"])
	})

	t.Run("ExtraFieldsIgnored", func(t *testing.T) {
		in := rawInput(10)
		in["merchant"] = "acme"
		in["Class"] = 1
		vec, _, err := schema.Vectorize(in)
		require.NoError(t, err)
		assert.Len(t, vec, 30)
	})

	t.Run("MissingFieldsReportedInSchemaOrder", func(t *testing.T) {
		in := rawInput(10)
		delete(in, "Amount")
		delete(in, "V2")
		_, _, err := schema.Vectorize(in)
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))

		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"V2", "Amount"}, verr.Fields)
	})

	t.Run("NullCountsAsMissing", func(t *testing.T) {
		in := rawInput(10)
		in["V7"] = nil
		_, _, err := schema.Vectorize(in)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("WrongTypeRejected", func(t *testing.T) {
		in := rawInput(10)
		in["Amount"] = "12.50"
		_, _, err := schema.Vectorize(in)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Amount")
	})

	t.Run("NilInput", func(t *testing.T) {
		_, _, err := schema.Vectorize(nil)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestSchemaEngineeredFeatures(t *testing.T) {
	names := append(DefaultFeatureNames(),
		AmountZScore, AmountLog, V1V2Ratio, HighValue, VarianceAll, MaxAbsV, MeanAbsV)
	schema, err := NewSchema(names, nil)
	require.NoError(t, err)
	assert.Len(t, schema.Required(), 30)
	assert.Len(t, schema.Derived(), 7)

	in := rawInput(1338)
	in["V1"] = -2.0
	in["V2"] = 1.0
	in["V3"] = 4.0

	vec, values, err := schema.Vectorize(in)
	require.NoError(t, err)
	require.Len(t, vec, 37)

	assert.InDelta(t, 5.0, values[AmountZScore], 1e-9)
	assert.InDelta(t, math.Log1p(1338), values[AmountLog], 1e-9)
	assert.InDelta(t, 2.0/1.0001, values[V1V2Ratio], 1e-9)
	assert.Equal(t, 1.0, values[HighValue])
	assert.InDelta(t, 4.0, values[MaxAbsV], 1e-9)
	assert.InDelta(t, 7.0/28.0, values[MeanAbsV], 1e-9)

	mean := 3.0 / 28.0
	expectedVar := ((-2-mean)*(-2-mean) + (1-mean)*(1-mean) + (4-mean)*(4-mean) + 25*mean*mean) / 28
	assert.InDelta(t, expectedVar, values[VarianceAll], 1e-9)

	t.Run("SuppliedValueWins", func(t *testing.T) {
		in := rawInput(50)
		in[AmountLog] = 5.0
		_, values, err := schema.Vectorize(in)
		require.NoError(t, err)
		assert.Equal(t, 5.0, values[AmountLog])
		assert.Equal(t, 0.0, values[HighValue])
	})
}

func TestSchemaConfiguration(t *testing.T) {
	t.Run("EmptyNames", func(t *testing.T) {
		_, err := NewSchema(nil, nil)
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("DuplicateNames", func(t *testing.T) {
		_, err := NewSchema([]string{"Amount", "Amount"}, nil)
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("DerivationMissingInputs", func(t *testing.T) {
		_, err := NewSchema([]string{"Amount", V1V2Ratio}, nil)
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("CustomDerivation", func(t *testing.T) {
		schema, err := NewSchema([]string{"Amount", "night"}, []domain.Derivation{
			{Name: "night", Expression: "Amount < 10.0"},
		})
		require.NoError(t, err)
		vec, _, err := schema.Vectorize(map[string]any{"Amount": 5})
		require.NoError(t, err)
		assert.Equal(t, []float64{5, 1}, vec)
	})

	t.Run("NonNumericDerivation", func(t *testing.T) {
		_, err := NewSchema([]string{"Amount", "label"}, []domain.Derivation{
			{Name: "label", Expression: `"x"`},
		})
		assert.True(t, domain.IsConfiguration(err))
	})
}
