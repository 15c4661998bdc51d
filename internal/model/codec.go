package model

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Artifact kinds understood by the codec. The kind tag travels with every
// serialized regressor so the registry can reconstruct the concrete type.
const (
	kindLinear        = "linear"
	kindRidge         = "ridge"
	kindBoostedStumps = "boosted_stumps"
	kindKNN           = "knn"
)

type envelope struct {
	Kind    string             `msgpack:"kind"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// EncodeRegressor serializes a regressor as a kind-tagged msgpack envelope.
func EncodeRegressor(r Regressor) ([]byte, error) {
	var kind string
	switch r.(type) {
	case *Linear:
		kind = kindLinear
	case *Ridge:
		kind = kindRidge
	case *BoostedStumps:
		kind = kindBoostedStumps
	case *KNN:
		kind = kindKNN
	default:
		return nil, fmt.Errorf("encode regressor: unsupported type %T", r)
	}

	payload, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return msgpack.Marshal(envelope{Kind: kind, Payload: payload})
}

// DecodeRegressor reconstructs a regressor from its envelope. An unknown
// kind is an artifact-integrity error, not a silent fallback.
func DecodeRegressor(data []byte) (Regressor, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode regressor envelope: %w", err)
	}

	var r Regressor
	switch env.Kind {
	case kindLinear:
		r = &Linear{}
	case kindRidge:
		r = &Ridge{}
	case kindBoostedStumps:
		r = &BoostedStumps{}
	case kindKNN:
		r = &KNN{}
	default:
		return nil, fmt.Errorf("decode regressor: unknown kind %q", env.Kind)
	}
	if err := msgpack.Unmarshal(env.Payload, r); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return r, nil
}

// EncodeScaler serializes a fitted scaler.
func EncodeScaler(s *Scaler) ([]byte, error) {
	return msgpack.Marshal(s)
}

// DecodeScaler reconstructs a scaler, rejecting empty or inconsistent ones.
func DecodeScaler(data []byte) (*Scaler, error) {
	var s Scaler
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return nil, fmt.Errorf("decode scaler: inconsistent dimensions (%d mean, %d std)", len(s.Mean), len(s.Std))
	}
	return &s, nil
}

// EncodeFeatureList serializes the advanced tier's ordered feature names.
func EncodeFeatureList(names []string) ([]byte, error) {
	return msgpack.Marshal(names)
}

// DecodeFeatureList reconstructs the ordered feature names.
func DecodeFeatureList(data []byte) ([]string, error) {
	var names []string
	if err := msgpack.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode feature list: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("decode feature list: empty")
	}
	return names, nil
}

// ensembleArtifact is the wire form of an Ensemble. Members are stored as
// kind-tagged envelopes so each can carry a different regressor family.
type ensembleArtifact struct {
	Members map[string][]byte  `msgpack:"members"`
	Weights map[string]float64 `msgpack:"weights"`
	Scaler  *Scaler            `msgpack:"scaler"`
	Scores  map[string]Score   `msgpack:"scores,omitempty"`
}

// EncodeEnsemble serializes a validated ensemble.
func EncodeEnsemble(e *Ensemble) ([]byte, error) {
	art := ensembleArtifact{
		Members: make(map[string][]byte, len(e.members)),
		Weights: e.weights,
		Scaler:  e.scaler,
		Scores:  e.scores,
	}
	for name, m := range e.members {
		data, err := EncodeRegressor(m)
		if err != nil {
			return nil, fmt.Errorf("encode ensemble member %q: %w", name, err)
		}
		art.Members[name] = data
	}
	return msgpack.Marshal(art)
}

// DecodeEnsemble reconstructs an ensemble, re-running the construction
// invariants so a corrupted artifact surfaces at load time rather than on
// the first request.
func DecodeEnsemble(data []byte) (*Ensemble, error) {
	var art ensembleArtifact
	if err := msgpack.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode ensemble: %w", err)
	}

	members := make(map[string]Regressor, len(art.Members))
	for name, raw := range art.Members {
		m, err := DecodeRegressor(raw)
		if err != nil {
			return nil, fmt.Errorf("decode ensemble member %q: %w", name, err)
		}
		members[name] = m
	}
	return NewEnsemble(members, art.Weights, art.Scaler, art.Scores)
}
