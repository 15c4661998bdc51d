package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityScaler(dim int) *Scaler {
	s := &Scaler{Mean: make([]float64, dim), Std: make([]float64, dim)}
	for i := range s.Std {
		s.Std[i] = 1
	}
	return s
}

func twoMemberEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	e, err := NewEnsemble(
		map[string]Regressor{
			"a": &Linear{Intercept: 0, Coef: []float64{1, 0}},
			"b": &Linear{Intercept: 10, Coef: []float64{0, 0}},
		},
		map[string]float64{"a": 0.75, "b": 0.25},
		identityScaler(2),
		map[string]Score{"a": {R2: 0.8, MAE: 5}, "b": {R2: 0.4, MAE: 9}},
	)
	require.NoError(t, err)
	return e
}

func TestNewEnsemble_Invariants(t *testing.T) {
	t.Run("weight naming absent member", func(t *testing.T) {
		_, err := NewEnsemble(
			map[string]Regressor{"a": &Linear{Coef: []float64{1}}},
			map[string]float64{"a": 0.5, "ghost": 0.5},
			identityScaler(1),
			nil,
		)
		var inconsistent *InconsistencyError
		require.ErrorAs(t, err, &inconsistent)
		assert.Equal(t, "ghost", inconsistent.Member)
	})

	t.Run("member without weight", func(t *testing.T) {
		_, err := NewEnsemble(
			map[string]Regressor{
				"a": &Linear{Coef: []float64{1}},
				"b": &Linear{Coef: []float64{1}},
			},
			map[string]float64{"a": 1},
			identityScaler(1),
			nil,
		)
		require.Error(t, err)
	})

	t.Run("weights must sum to one", func(t *testing.T) {
		_, err := NewEnsemble(
			map[string]Regressor{"a": &Linear{Coef: []float64{1}}},
			map[string]float64{"a": 0.9},
			identityScaler(1),
			nil,
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sum")
	})

	t.Run("missing scaler", func(t *testing.T) {
		_, err := NewEnsemble(
			map[string]Regressor{"a": &Linear{Coef: []float64{1}}},
			map[string]float64{"a": 1},
			nil,
			nil,
		)
		require.Error(t, err)
	})
}

func TestEnsemble_PredictBlends(t *testing.T) {
	e := twoMemberEnsemble(t)

	// 0.75*x0 + 0.25*10 with an identity scaler.
	got, err := e.Predict([][]float64{{4, 0}, {8, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 5.5, got[0], 1e-12)
	assert.InDelta(t, 8.5, got[1], 1e-12)
}

func TestEnsemble_PredictScalesRawRows(t *testing.T) {
	scaler, err := FitScaler([][]float64{{0, 0}, {10, 0}})
	require.NoError(t, err)

	e, err := NewEnsemble(
		map[string]Regressor{"a": &Linear{Coef: []float64{1, 0}}},
		map[string]float64{"a": 1},
		scaler,
		nil,
	)
	require.NoError(t, err)

	// A raw row matching the scaler width is standardized: 10 → +1.
	y, err := e.PredictOne([]float64{10, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, y, 1e-12)
}

func TestEnsemble_Info(t *testing.T) {
	info := twoMemberEnsemble(t).Info()

	assert.Equal(t, []string{"a", "b"}, info.Members)
	assert.InDelta(t, 0.75, info.Weights["a"], 1e-12)
	assert.InDelta(t, 0.25, info.Weights["b"], 1e-12)
	require.NotNil(t, info.Scores)
	assert.InDelta(t, 0.8, info.Scores["a"].R2, 1e-12)

	var total float64
	for _, w := range info.Weights {
		total += w
	}
	assert.InDelta(t, 1.0, total, WeightTolerance)
}

func TestEnsembleCodec_RoundTrip(t *testing.T) {
	e := twoMemberEnsemble(t)

	data, err := EncodeEnsemble(e)
	require.NoError(t, err)

	decoded, err := DecodeEnsemble(data)
	require.NoError(t, err)

	orig, _ := e.PredictOne([]float64{4, 0})
	got, err := decoded.PredictOne([]float64{4, 0})
	require.NoError(t, err)
	assert.InDelta(t, orig, got, 1e-12)
	assert.Equal(t, e.Info(), decoded.Info())
}

func TestDecodeRegressor_UnknownKind(t *testing.T) {
	data, err := EncodeRegressor(&BoostedStumps{Features: 1})
	require.NoError(t, err)

	r, err := DecodeRegressor(data)
	require.NoError(t, err)
	assert.IsType(t, &BoostedStumps{}, r)

	_, err = DecodeRegressor([]byte{0x01, 0x02})
	require.Error(t, err)
}
