package domain

import (
	"fmt"
	"math"
	"time"
)

// Observation is one satellite AOD reading plus the local weather recorded
// with it. Created per request or per ingested row, immutable once built.
type Observation struct {
	AOD      float64
	MinTemp  float64
	MaxTemp  float64
	Rainfall float64

	// Humidity is the measured relative humidity when the station reports
	// one. When nil, feature derivation synthesizes a proxy from temperature
	// and rainfall.
	Humidity *float64

	// Timestamp of the reading. The zero value means "now": derivation
	// substitutes the current clock time.
	Timestamp time.Time
}

// Validate reports whether the observation is physically plausible.
// MinTemp > MaxTemp is a semantic error even though nothing downstream
// divides by the difference.
func (o Observation) Validate() error {
	for name, v := range map[string]float64{
		"satellite_aod": o.AOD,
		"min_temp":      o.MinTemp,
		"max_temp":      o.MaxTemp,
		"rainfall":      o.Rainfall,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidObservation, name)
		}
	}
	if o.AOD < 0 {
		return fmt.Errorf("%w: satellite_aod must be non-negative, got %g", ErrInvalidObservation, o.AOD)
	}
	if o.Rainfall < 0 {
		return fmt.Errorf("%w: rainfall must be non-negative, got %g", ErrInvalidObservation, o.Rainfall)
	}
	if o.MinTemp > o.MaxTemp {
		return fmt.Errorf("%w: min_temp %g exceeds max_temp %g", ErrInvalidObservation, o.MinTemp, o.MaxTemp)
	}
	return nil
}

// Reading pairs an Observation with its station identity and, when the
// station hosts a reference monitor, the ground-truth PM2.5 value.
// Readings are the unit of exchange between the ingestor, the ground-truth
// store, and the trainers.
type Reading struct {
	Station     string
	Observation Observation

	// PM25 is nil for stations without a co-located monitor; such readings
	// still contribute history for temporal features but not training labels.
	PM25 *float64
}
