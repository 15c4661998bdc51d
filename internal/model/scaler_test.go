package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitScaler(t *testing.T) {
	rows := [][]float64{
		{100, 20, 30, 0},
		{300, 25, 35, 5},
		{500, 30, 40, 10},
	}

	s, err := FitScaler(rows)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Dim())
	assert.InDelta(t, 300.0, s.Mean[0], 1e-9)
	assert.InDelta(t, 25.0, s.Mean[1], 1e-9)

	scaled, err := s.Transform(rows[1])
	require.NoError(t, err)
	// The middle row sits at the column means.
	for _, v := range scaled {
		assert.InDelta(t, 0.0, v, 1e-9)
	}
}

func TestFitScaler_ConstantColumn(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 7}, {2, 7}, {3, 7}})
	require.NoError(t, err)

	scaled, err := s.Transform([]float64{2, 7})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, scaled[0], 1e-9)
	// Zero-variance column passes through centered, not divided by zero.
	assert.InDelta(t, 0.0, scaled[1], 1e-9)
}

func TestScaler_RoundTrip(t *testing.T) {
	rows := [][]float64{{100, 20, 30, 0}, {300, 25, 35, 5}, {900, 35, 45, 12}}
	s, err := FitScaler(rows)
	require.NoError(t, err)

	for _, row := range rows {
		scaled, err := s.Transform(row)
		require.NoError(t, err)
		back, err := s.Inverse(scaled)
		require.NoError(t, err)
		for i := range row {
			assert.InDelta(t, row[i], back[i], 1e-9)
		}
	}
}

func TestScaler_WidthMismatch(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)

	_, err = s.Transform([]float64{1, 2, 3})
	require.Error(t, err)

	_, err = FitScaler([][]float64{{1, 2}, {3}})
	require.Error(t, err)
}

func TestFitScaler_Empty(t *testing.T) {
	_, err := FitScaler(nil)
	require.Error(t, err)
}
