package model

import (
	"fmt"
	"math"
	"sort"
)

// WeightTolerance is the floating slack allowed on the total-weight
// invariant: member weights must sum to 1 within this epsilon.
const WeightTolerance = 1e-6

// Score records one member's held-out evaluation. Diagnostics only — never
// consulted at prediction time.
type Score struct {
	R2  float64 `msgpack:"r2" json:"r2"`
	MAE float64 `msgpack:"mae" json:"mae"`
}

// InconsistencyError reports an ensemble whose weight map references a
// member that is not present. A correctly persisted ensemble can never
// produce this; it indicates a corrupted artifact and keeps the tier from
// reporting itself available.
type InconsistencyError struct {
	Member string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("ensemble weight references absent member %q", e.Member)
}

// Ensemble blends independently-fit base learners behind one predictor.
// It is an immutable value: constructed once at training or load time, with
// the total-weight invariant checked at construction rather than on every
// prediction.
type Ensemble struct {
	members map[string]Regressor
	weights map[string]float64
	scaler  *Scaler
	scores  map[string]Score
}

// NewEnsemble validates and assembles an ensemble. Every weight must name a
// present member, every member must carry a weight, and weights must sum to
// 1 within WeightTolerance. Scores are optional metadata.
func NewEnsemble(members map[string]Regressor, weights map[string]float64, scaler *Scaler, scores map[string]Score) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble: no members")
	}
	if scaler == nil {
		return nil, fmt.Errorf("ensemble: missing shared scaler")
	}

	var total float64
	for name, w := range weights {
		if _, ok := members[name]; !ok {
			return nil, &InconsistencyError{Member: name}
		}
		total += w
	}
	for name := range members {
		if _, ok := weights[name]; !ok {
			return nil, fmt.Errorf("ensemble: member %q has no weight", name)
		}
	}
	if math.Abs(total-1) > WeightTolerance {
		return nil, fmt.Errorf("ensemble: weights sum to %g, want 1", total)
	}

	e := &Ensemble{
		members: make(map[string]Regressor, len(members)),
		weights: make(map[string]float64, len(weights)),
		scaler:  scaler,
	}
	for name, m := range members {
		e.members[name] = m
	}
	for name, w := range weights {
		e.weights[name] = w
	}
	if scores != nil {
		e.scores = make(map[string]Score, len(scores))
		for name, s := range scores {
			e.scores[name] = s
		}
	}
	return e, nil
}

// Predict blends the members over a batch of rows. Rows with the shared
// scaler's input width are standardized first; anything else is assumed
// pre-scaled and passed through. Each row's output is the weighted sum of
// member predictions over the members actually present.
func (e *Ensemble) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		y, err := e.PredictOne(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

// PredictOne blends the members for a single row.
func (e *Ensemble) PredictOne(row []float64) (float64, error) {
	x := row
	if len(row) == e.scaler.Dim() {
		scaled, err := e.scaler.Transform(row)
		if err != nil {
			return 0, err
		}
		x = scaled
	}

	var sum float64
	for name, m := range e.members {
		p, err := m.Predict(x)
		if err != nil {
			return 0, fmt.Errorf("member %q: %w", name, err)
		}
		sum += e.weights[name] * p
	}
	return sum, nil
}

// Info is the diagnostics view of an ensemble.
type Info struct {
	Weights map[string]float64 `json:"weights"`
	Members []string           `json:"models"`
	Scores  map[string]Score   `json:"scores,omitempty"`
}

// Info returns the weight map, member identifiers, and the score record when
// one was set at training time.
func (e *Ensemble) Info() Info {
	info := Info{
		Weights: make(map[string]float64, len(e.weights)),
		Members: make([]string, 0, len(e.members)),
	}
	for name, w := range e.weights {
		info.Weights[name] = w
	}
	for name := range e.members {
		info.Members = append(info.Members, name)
	}
	sort.Strings(info.Members)
	if e.scores != nil {
		info.Scores = make(map[string]Score, len(e.scores))
		for name, s := range e.scores {
			info.Scores[name] = s
		}
	}
	return info
}

// ScalerDim is the feature width of the shared scaler.
func (e *Ensemble) ScalerDim() int { return e.scaler.Dim() }
