// Command validate performs end-to-end integrity checks across the service's
// stores: the ground-truth readings, the persisted model artifacts, and the
// serving behavior of whatever tiers load. It is meant to run after gendata,
// ingest, or train, as a fast offline sanity pass.
//
// Usage:
//
//	go run ./cmd/validate
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"gonum.org/v1/gonum/stat"

	"github.com/airshed/aod-calibration-service/internal/adapter/modelstore"
	"github.com/airshed/aod-calibration-service/internal/adapter/sqlite"
	"github.com/airshed/aod-calibration-service/internal/calibrate"
	"github.com/airshed/aod-calibration-service/internal/config"
	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/observability"
)

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	if code := run(); code != 0 {
		os.Exit(code)
	}
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		return 1
	}
	ctx := context.Background()

	fmt.Println("=== Calibration Service Integrity Validation ===")
	fmt.Println()

	phases := []*phase{
		validateReadings(ctx, cfg),
		validateArtifacts(ctx, cfg),
		validateServing(ctx, cfg),
		validateAccuracy(ctx, cfg),
	}

	failed := false
	for _, p := range phases {
		if p.passed() {
			fmt.Printf("PASS  %s\n", p.name)
			continue
		}
		failed = true
		fmt.Printf("FAIL  %s\n", p.name)
		for _, e := range p.errors {
			fmt.Printf("      - %s\n", e)
		}
	}
	if failed {
		return 1
	}
	fmt.Println()
	fmt.Println("all phases passed")
	return 0
}

func validateReadings(ctx context.Context, cfg *config.Config) *phase {
	p := &phase{name: "ground-truth store"}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		p.errorf("open %s: %v", cfg.DatabasePath, err)
		return p
	}
	defer db.Close()

	total, labeled, err := db.Count(ctx)
	if err != nil {
		p.errorf("count readings: %v", err)
		return p
	}
	if total == 0 {
		p.errorf("store is empty; run gendata or ingest first")
		return p
	}
	if labeled == 0 {
		p.errorf("no labeled readings; trainers cannot run")
	}

	readings, err := db.TrainingReadings(ctx)
	if err != nil {
		p.errorf("load training readings: %v", err)
		return p
	}
	for i, r := range readings {
		if err := r.Observation.Validate(); err != nil {
			p.errorf("reading %d (%s): %v", i, r.Station, err)
			break
		}
		if i > 0 && readings[i-1].Observation.Timestamp.After(r.Observation.Timestamp) {
			p.errorf("readings not time-ordered at index %d", i)
			break
		}
	}
	return p
}

func validateArtifacts(ctx context.Context, cfg *config.Config) *phase {
	p := &phase{name: "model artifacts"}

	store, err := modelstore.New(cfg.ModelDir)
	if err != nil {
		p.errorf("open model store %s: %v", cfg.ModelDir, err)
		return p
	}

	registry := newRegistry(ctx, store)
	if registry.BestTier() == domain.TierNone {
		p.errorf("no tier loads from %s; run train first", cfg.ModelDir)
		return p
	}

	// Per-tier artifact completeness: a tier's artifacts should exist
	// together or not at all.
	groups := map[domain.Tier][]string{
		domain.TierBasic:    {calibrate.ArtifactBasicModel, calibrate.ArtifactBasicScaler},
		domain.TierEnsemble: {calibrate.ArtifactEnsemble},
		domain.TierAdvanced: {calibrate.ArtifactAdvancedModel, calibrate.ArtifactAdvancedScaler, calibrate.ArtifactAdvancedFeatures},
	}
	for tier, names := range groups {
		present := 0
		for _, name := range names {
			ok, err := store.Exists(ctx, name)
			if err != nil {
				p.errorf("stat %s: %v", name, err)
				continue
			}
			if ok {
				present++
			}
		}
		if present != 0 && present != len(names) {
			p.errorf("tier %s has %d of %d artifacts", tier, present, len(names))
		}
		if present == len(names) && !registry.Available(tier) {
			p.errorf("tier %s artifacts exist but do not load", tier)
		}
	}
	return p
}

func validateServing(ctx context.Context, cfg *config.Config) *phase {
	p := &phase{name: "serving behavior"}

	store, err := modelstore.New(cfg.ModelDir)
	if err != nil {
		p.errorf("open model store: %v", err)
		return p
	}
	registry := newRegistry(ctx, store)
	if registry.BestTier() == domain.TierNone {
		p.errorf("nothing to serve")
		return p
	}
	dispatcher := calibrate.NewDispatcher(registry, slog.Default(), observability.NewMetricsForTesting())

	for tier, check := range dispatcher.SelfTest(ctx) {
		if check.Err != nil {
			p.errorf("self-test %s: %v", tier, check.Err)
			continue
		}
		v := check.Result.Value
		if math.IsNaN(v) || math.IsInf(v, 0) || v < -50 || v > 2000 {
			p.errorf("self-test %s produced implausible value %g", tier, v)
		}
	}

	// Same input twice must produce the same output.
	obs := calibrate.CanonicalObservation()
	first, err := dispatcher.Calibrate(ctx, obs, "")
	if err != nil {
		p.errorf("calibrate: %v", err)
		return p
	}
	second, err := dispatcher.Calibrate(ctx, obs, "")
	if err != nil {
		p.errorf("calibrate repeat: %v", err)
		return p
	}
	if first.Value != second.Value || first.Tier != second.Tier {
		p.errorf("calibration is not deterministic: %v/%s then %v/%s",
			first.Value, first.Tier, second.Value, second.Tier)
	}
	if first.Tier != registry.BestTier() {
		p.errorf("unforced calibration used %s, best tier is %s", first.Tier, registry.BestTier())
	}
	return p
}

// validateAccuracy replays the labeled readings through every loaded tier and
// reports held-in R²/MAE. Forced-tier calibration serves each reading exactly
// as the API would, so this measures the deployed artifacts, not a refit.
func validateAccuracy(ctx context.Context, cfg *config.Config) *phase {
	p := &phase{name: "model accuracy"}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		p.errorf("open %s: %v", cfg.DatabasePath, err)
		return p
	}
	defer db.Close()

	readings, err := db.TrainingReadings(ctx)
	if err != nil {
		p.errorf("load training readings: %v", err)
		return p
	}
	if len(readings) == 0 {
		p.errorf("no labeled readings to replay")
		return p
	}

	store, err := modelstore.New(cfg.ModelDir)
	if err != nil {
		p.errorf("open model store: %v", err)
		return p
	}
	registry := newRegistry(ctx, store)
	dispatcher := calibrate.NewDispatcher(registry, slog.Default(), observability.NewMetricsForTesting())

	for _, tier := range []domain.Tier{domain.TierBasic, domain.TierEnsemble, domain.TierAdvanced} {
		if !registry.Available(tier) {
			continue
		}
		var preds, truth []float64
		for _, r := range readings {
			result, err := dispatcher.Calibrate(ctx, r.Observation, tier)
			if err != nil {
				p.errorf("tier %s: replay %s@%s: %v",
					tier, r.Station, r.Observation.Timestamp.Format("2006-01-02T15:04"), err)
				break
			}
			preds = append(preds, result.Value)
			truth = append(truth, *r.PM25)
		}
		if len(preds) != len(readings) {
			continue
		}

		r2 := stat.RSquaredFrom(preds, truth, nil)
		var absSum float64
		for i := range truth {
			absSum += math.Abs(preds[i] - truth[i])
		}
		mae := absSum / float64(len(truth))
		fmt.Printf("      tier %-8s  rows=%d  r2=%.4f  mae=%.2f\n", tier, len(truth), r2, mae)

		if r2 <= 0 {
			p.errorf("tier %s explains no variance (r2=%.4f); artifacts look stale", tier, r2)
		}
	}
	return p
}

func newRegistry(ctx context.Context, store *modelstore.Store) *calibrate.Registry {
	r := calibrate.NewRegistry(store, slog.Default(), observability.NewMetricsForTesting())
	r.LoadAll(ctx)
	return r
}
