// Package model holds the fitted artifacts the calibration tiers predict
// with: a standard feature scaler, several regressor families, and the
// weighted ensemble combiner. Artifacts are fit offline by internal/train,
// serialized with the msgpack codec in this package, and never mutated after
// the registry loads them.
package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature columns to zero mean and unit variance,
// matching the scaler its companion regressor was fit with.
type Scaler struct {
	Mean []float64 `msgpack:"mean"`
	Std  []float64 `msgpack:"std"`
}

// FitScaler computes column-wise mean and population standard deviation.
// Zero-variance columns scale by 1 so constant features pass through
// unchanged instead of dividing by zero.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit scaler: no rows")
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, fmt.Errorf("fit scaler: empty rows")
	}

	col := make([]float64, len(rows))
	s := &Scaler{Mean: make([]float64, dim), Std: make([]float64, dim)}
	for j := 0; j < dim; j++ {
		for i, row := range rows {
			if len(row) != dim {
				return nil, fmt.Errorf("fit scaler: row %d has %d features, want %d", i, len(row), dim)
			}
			col[i] = row[j]
		}
		mean := stat.Mean(col, nil)
		std := stat.PopStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s, nil
}

// Dim is the feature width the scaler was fit on.
func (s *Scaler) Dim() int { return len(s.Mean) }

// Transform standardizes one row.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != s.Dim() {
		return nil, fmt.Errorf("scale: got %d features, want %d", len(x), s.Dim())
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out, nil
}

// TransformAll standardizes a batch of rows.
func (s *Scaler) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Inverse undoes Transform, recovering the original feature values.
func (s *Scaler) Inverse(x []float64) ([]float64, error) {
	if len(x) != s.Dim() {
		return nil, fmt.Errorf("inverse scale: got %d features, want %d", len(x), s.Dim())
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v*s.Std[i] + s.Mean[i]
	}
	return out, nil
}
