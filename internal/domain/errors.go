package domain

import (
	"errors"
	"fmt"
)

// Tier identifies one calibration strategy, ordered by sophistication.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierEnsemble Tier = "ensemble"
	TierAdvanced Tier = "advanced"

	// TierNone is reported when no artifact loaded at all.
	TierNone Tier = "none"
)

// ParseTier maps a request path segment to a tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierBasic, TierEnsemble, TierAdvanced:
		return Tier(s), nil
	default:
		return TierNone, fmt.Errorf("unknown calibration tier %q", s)
	}
}

// Source is the response label for the tier, e.g. "ensemble_model".
func (t Tier) Source() string { return string(t) + "_model" }

// ModelVersion is the fixed per-tier version string.
func (t Tier) ModelVersion() string {
	switch t {
	case TierBasic:
		return "1.0"
	case TierEnsemble:
		return "2.0"
	case TierAdvanced:
		return "3.0"
	default:
		return ""
	}
}

// Confidence is the qualitative per-tier confidence label.
func (t Tier) Confidence() string {
	switch t {
	case TierBasic:
		return "standard"
	case TierEnsemble:
		return "high"
	case TierAdvanced:
		return "very_high"
	default:
		return ""
	}
}

// Stage names the phase of a calibration attempt that failed.
type Stage string

const (
	StageFeatureDerivation Stage = "feature_derivation"
	StagePrediction        Stage = "prediction"
)

var (
	// ErrInvalidObservation marks a request whose observation fails
	// semantic validation. Surfaced to the caller, never retried.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrNoModelAvailable is returned when no tier loaded at all.
	ErrNoModelAvailable = errors.New("no calibration models available")
)

// TierUnavailableError is returned when a caller forces a tier whose
// artifacts did not load.
type TierUnavailableError struct {
	Tier Tier
}

func (e *TierUnavailableError) Error() string {
	return fmt.Sprintf("%s model not available", e.Tier)
}

// CalibrationError wraps a failure inside feature derivation or prediction
// for the tier that was already selected. The dispatcher never falls back to
// a lower tier mid-request, so the error names the tier that was attempted.
type CalibrationError struct {
	Tier  Tier
	Stage Stage
	Err   error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("%s model: %s failed: %v", e.Tier, e.Stage, e.Err)
}

func (e *CalibrationError) Unwrap() error { return e.Err }
