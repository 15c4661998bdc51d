package calibrate

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/observability"
)

// Result is the normalized calibration response, produced fresh per request
// and never persisted.
type Result struct {
	Value      float64
	Tier       domain.Tier
	Version    string
	Confidence string

	// EnsembleWeights is set for the ensemble tier only.
	EnsembleWeights map[string]float64

	// FeaturesUsed is set for the advanced tier only.
	FeaturesUsed int
}

// CanonicalObservation is the fixed self-test input: a hazy, hot, dry day.
func CanonicalObservation() domain.Observation {
	return domain.Observation{AOD: 300, MinTemp: 25, MaxTemp: 35, Rainfall: 0}
}

// Dispatcher is the single calibration entry point. Tier selection happens
// once, before execution; a failure inside the chosen tier is surfaced, not
// silently retried against a lower tier, so responses stay deterministic and
// observable.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewDispatcher wires the dispatcher to a loaded registry.
func NewDispatcher(registry *Registry, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger, metrics: metrics}
}

// Calibrate converts one observation into a PM2.5 estimate. An empty forced
// tier selects the best available tier; a non-empty one must be loaded or
// the call fails with TierUnavailableError.
func (d *Dispatcher) Calibrate(ctx context.Context, obs domain.Observation, forced domain.Tier) (Result, error) {
	tier, err := d.selectTier(forced)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := d.run(ctx, tier, obs)
	d.metrics.CalibrationDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
	if err != nil {
		d.metrics.CalibrationsTotal.WithLabelValues(string(tier), "error").Inc()
		d.logger.Warn("calibration failed", "tier", tier, "error", err)
		return Result{}, err
	}

	d.metrics.CalibrationsTotal.WithLabelValues(string(tier), "ok").Inc()
	return result, nil
}

func (d *Dispatcher) selectTier(forced domain.Tier) (domain.Tier, error) {
	if forced != "" && forced != domain.TierNone {
		if !d.registry.Available(forced) {
			return domain.TierNone, &domain.TierUnavailableError{Tier: forced}
		}
		return forced, nil
	}

	best := d.registry.BestTier()
	if best == domain.TierNone {
		return domain.TierNone, domain.ErrNoModelAvailable
	}
	return best, nil
}

func (d *Dispatcher) run(ctx context.Context, tier domain.Tier, obs domain.Observation) (Result, error) {
	switch tier {
	case domain.TierBasic:
		return d.calibrateBasic(obs)
	case domain.TierEnsemble:
		return d.calibrateEnsemble(obs)
	case domain.TierAdvanced:
		return d.calibrateAdvanced(obs)
	default:
		return Result{}, domain.ErrNoModelAvailable
	}
}

func (d *Dispatcher) calibrateBasic(obs domain.Observation) (Result, error) {
	tier := d.registry.basic

	scaled, err := tier.scaler.Transform(domain.BaseFeatures(obs))
	if err != nil {
		return Result{}, &domain.CalibrationError{Tier: domain.TierBasic, Stage: domain.StagePrediction, Err: err}
	}
	value, err := tier.model.Predict(scaled)
	if err != nil {
		return Result{}, &domain.CalibrationError{Tier: domain.TierBasic, Stage: domain.StagePrediction, Err: err}
	}
	return newResult(domain.TierBasic, value), nil
}

func (d *Dispatcher) calibrateEnsemble(obs domain.Observation) (Result, error) {
	e := d.registry.ensemble

	value, err := e.PredictOne(domain.BaseFeatures(obs))
	if err != nil {
		return Result{}, &domain.CalibrationError{Tier: domain.TierEnsemble, Stage: domain.StagePrediction, Err: err}
	}
	result := newResult(domain.TierEnsemble, value)
	result.EnsembleWeights = e.Info().Weights
	return result, nil
}

func (d *Dispatcher) calibrateAdvanced(obs domain.Observation) (Result, error) {
	tier := d.registry.advanced

	row := domain.AdvancedRow(obs)
	x, err := domain.SelectFeatures(row, tier.features)
	if err != nil {
		return Result{}, &domain.CalibrationError{Tier: domain.TierAdvanced, Stage: domain.StageFeatureDerivation, Err: err}
	}
	scaled, err := tier.scaler.Transform(x)
	if err != nil {
		return Result{}, &domain.CalibrationError{Tier: domain.TierAdvanced, Stage: domain.StagePrediction, Err: err}
	}
	value, err := tier.model.Predict(scaled)
	if err != nil {
		return Result{}, &domain.CalibrationError{Tier: domain.TierAdvanced, Stage: domain.StagePrediction, Err: err}
	}
	result := newResult(domain.TierAdvanced, value)
	result.FeaturesUsed = len(tier.features)
	return result, nil
}

func newResult(tier domain.Tier, value float64) Result {
	return Result{
		Value:      math.Round(value*100) / 100,
		Tier:       tier,
		Version:    tier.ModelVersion(),
		Confidence: tier.Confidence(),
	}
}

// TierCheck is one tier's self-test outcome: a result or the error that
// prevented one.
type TierCheck struct {
	Result *Result
	Err    error
}

// SelfTest runs the canonical observation through every loaded tier.
// Failures are structured and logged but never fatal — the pass exists to
// surface degraded artifacts, not to gate serving.
func (d *Dispatcher) SelfTest(ctx context.Context) map[domain.Tier]TierCheck {
	obs := CanonicalObservation()
	checks := make(map[domain.Tier]TierCheck)

	for _, tier := range []domain.Tier{domain.TierBasic, domain.TierEnsemble, domain.TierAdvanced} {
		if !d.registry.Available(tier) {
			continue
		}
		result, err := d.Calibrate(ctx, obs, tier)
		if err != nil {
			d.metrics.SelfTestFailures.Inc()
			d.logger.Error("self-test failed", "tier", tier, "error", err)
			checks[tier] = TierCheck{Err: err}
			continue
		}
		checks[tier] = TierCheck{Result: &result}
	}
	return checks
}

// CheckReadiness reports whether at least one tier can serve.
func (d *Dispatcher) CheckReadiness(_ context.Context) error {
	if d.registry.BestTier() == domain.TierNone {
		return errors.New("no calibration model loaded")
	}
	return nil
}
