package model

import (
	"fmt"
	"sort"
)

// Regressor is a previously-fit model mapping one feature vector to a PM2.5
// estimate. Implementations are immutable value types: prediction never
// writes through the receiver, so concurrent use needs no locking.
type Regressor interface {
	Predict(x []float64) (float64, error)
	NumFeatures() int
}

// Linear is an ordinary-least-squares fit.
type Linear struct {
	Intercept float64   `msgpack:"intercept"`
	Coef      []float64 `msgpack:"coef"`
}

func (m *Linear) NumFeatures() int { return len(m.Coef) }

func (m *Linear) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coef) {
		return 0, fmt.Errorf("linear: got %d features, want %d", len(x), len(m.Coef))
	}
	y := m.Intercept
	for i, c := range m.Coef {
		y += c * x[i]
	}
	return y, nil
}

// Ridge is an L2-regularized linear fit. Identical at prediction time to
// Linear; kept as its own kind so artifacts record how they were trained.
type Ridge struct {
	Intercept float64   `msgpack:"intercept"`
	Coef      []float64 `msgpack:"coef"`
	Lambda    float64   `msgpack:"lambda"`
}

func (m *Ridge) NumFeatures() int { return len(m.Coef) }

func (m *Ridge) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coef) {
		return 0, fmt.Errorf("ridge: got %d features, want %d", len(x), len(m.Coef))
	}
	y := m.Intercept
	for i, c := range m.Coef {
		y += c * x[i]
	}
	return y, nil
}

// Stump is a depth-one regression tree: one feature, one threshold, two
// leaf values.
type Stump struct {
	Feature   int     `msgpack:"feature"`
	Threshold float64 `msgpack:"threshold"`
	Left      float64 `msgpack:"left"`  // value when x[Feature] <= Threshold
	Right     float64 `msgpack:"right"` // value otherwise
}

// BoostedStumps is a gradient-boosted sum of regression stumps, the
// gradient-boosting family used by the basic and advanced tiers.
type BoostedStumps struct {
	Base         float64 `msgpack:"base"` // mean of the training target
	LearningRate float64 `msgpack:"learning_rate"`
	Features     int     `msgpack:"features"`
	Stumps       []Stump `msgpack:"stumps"`
}

func (m *BoostedStumps) NumFeatures() int { return m.Features }

func (m *BoostedStumps) Predict(x []float64) (float64, error) {
	if len(x) != m.Features {
		return 0, fmt.Errorf("boosted stumps: got %d features, want %d", len(x), m.Features)
	}
	y := m.Base
	for _, s := range m.Stumps {
		if s.Feature >= len(x) {
			return 0, fmt.Errorf("boosted stumps: stump references feature %d of %d", s.Feature, len(x))
		}
		if x[s.Feature] <= s.Threshold {
			y += m.LearningRate * s.Left
		} else {
			y += m.LearningRate * s.Right
		}
	}
	return y, nil
}

// KNN predicts the mean target of the K nearest training rows by Euclidean
// distance. It is the ensemble's non-parametric member.
type KNN struct {
	K int         `msgpack:"k"`
	X [][]float64 `msgpack:"x"`
	Y []float64   `msgpack:"y"`
}

func (m *KNN) NumFeatures() int {
	if len(m.X) == 0 {
		return 0
	}
	return len(m.X[0])
}

func (m *KNN) Predict(x []float64) (float64, error) {
	if len(m.X) == 0 || len(m.X) != len(m.Y) {
		return 0, fmt.Errorf("knn: empty or inconsistent training set")
	}
	if len(x) != len(m.X[0]) {
		return 0, fmt.Errorf("knn: got %d features, want %d", len(x), len(m.X[0]))
	}
	k := m.K
	if k <= 0 || k > len(m.X) {
		k = len(m.X)
	}

	type neighbor struct {
		dist float64
		y    float64
	}
	neighbors := make([]neighbor, len(m.X))
	for i, row := range m.X {
		var d float64
		for j, v := range row {
			diff := v - x[j]
			d += diff * diff
		}
		neighbors[i] = neighbor{dist: d, y: m.Y[i]}
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].dist < neighbors[j].dist })

	var sum float64
	for i := 0; i < k; i++ {
		sum += neighbors[i].y
	}
	return sum / float64(k), nil
}
