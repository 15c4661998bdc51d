// Package calibrate is the tiered calibration engine: the model registry
// owning the artifacts loaded at startup, and the dispatcher that selects a
// tier, derives its feature representation, and normalizes the response.
package calibrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/model"
	"github.com/airshed/aod-calibration-service/internal/observability"
)

// Artifact names in the model store. The trainer persists under these names;
// a tier is available only when every artifact it needs loads and decodes.
const (
	ArtifactBasicModel       = "aod_to_pm25_calibrator"
	ArtifactBasicScaler      = "feature_scaler"
	ArtifactEnsemble         = "ensemble_calibrator"
	ArtifactAdvancedModel    = "advanced_calibrator"
	ArtifactAdvancedScaler   = "advanced_scaler"
	ArtifactAdvancedFeatures = "advanced_features"
)

// ArtifactStore is the model-store contract the registry loads from.
type ArtifactStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
}

type basicTier struct {
	model  model.Regressor
	scaler *model.Scaler
}

type advancedTier struct {
	model    model.Regressor
	scaler   *model.Scaler
	features []string
}

// Registry owns whichever tier artifacts loaded successfully at startup.
// It is immutable after LoadAll: concurrent requests read it without
// locking, and no serving path ever writes through an artifact handle.
type Registry struct {
	store   ArtifactStore
	logger  *slog.Logger
	metrics *observability.Metrics

	basic    *basicTier
	ensemble *model.Ensemble
	advanced *advancedTier
}

// NewRegistry creates an empty registry. Call LoadAll before serving.
func NewRegistry(store ArtifactStore, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{store: store, logger: logger, metrics: metrics}
}

// LoadAll attempts to load every tier. A tier with any missing or corrupt
// sub-artifact is reported fully unavailable — tiers are atomic. Failures
// are logged and non-fatal; the dispatcher degrades via BestTier.
func (r *Registry) LoadAll(ctx context.Context) {
	loaders := []struct {
		tier domain.Tier
		load func(context.Context) error
	}{
		{domain.TierBasic, r.loadBasic},
		{domain.TierEnsemble, r.loadEnsemble},
		{domain.TierAdvanced, r.loadAdvanced},
	}

	for _, l := range loaders {
		if err := l.load(ctx); err != nil {
			r.logger.Warn("model tier unavailable", "tier", l.tier, "error", err)
			r.metrics.ModelLoaded.WithLabelValues(string(l.tier)).Set(0)
			continue
		}
		r.logger.Info("model tier loaded", "tier", l.tier)
		r.metrics.ModelLoaded.WithLabelValues(string(l.tier)).Set(1)
	}
}

func (r *Registry) loadBasic(ctx context.Context) error {
	m, err := r.loadRegressor(ctx, ArtifactBasicModel)
	if err != nil {
		return err
	}
	s, err := r.loadScaler(ctx, ArtifactBasicScaler)
	if err != nil {
		return err
	}
	r.basic = &basicTier{model: m, scaler: s}
	return nil
}

func (r *Registry) loadEnsemble(ctx context.Context) error {
	data, err := r.store.Get(ctx, ArtifactEnsemble)
	if err != nil {
		return fmt.Errorf("%s: %w", ArtifactEnsemble, err)
	}
	e, err := model.DecodeEnsemble(data)
	if err != nil {
		return fmt.Errorf("%s: %w", ArtifactEnsemble, err)
	}
	r.ensemble = e
	return nil
}

func (r *Registry) loadAdvanced(ctx context.Context) error {
	m, err := r.loadRegressor(ctx, ArtifactAdvancedModel)
	if err != nil {
		return err
	}
	s, err := r.loadScaler(ctx, ArtifactAdvancedScaler)
	if err != nil {
		return err
	}
	data, err := r.store.Get(ctx, ArtifactAdvancedFeatures)
	if err != nil {
		return fmt.Errorf("%s: %w", ArtifactAdvancedFeatures, err)
	}
	features, err := model.DecodeFeatureList(data)
	if err != nil {
		return fmt.Errorf("%s: %w", ArtifactAdvancedFeatures, err)
	}
	if s.Dim() != len(features) {
		return fmt.Errorf("advanced scaler dimension %d does not match %d features", s.Dim(), len(features))
	}
	r.advanced = &advancedTier{model: m, scaler: s, features: features}
	return nil
}

func (r *Registry) loadRegressor(ctx context.Context, name string) (model.Regressor, error) {
	data, err := r.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	m, err := model.DecodeRegressor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

func (r *Registry) loadScaler(ctx context.Context, name string) (*model.Scaler, error) {
	data, err := r.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	s, err := model.DecodeScaler(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// Available reports whether a tier's artifacts loaded.
func (r *Registry) Available(tier domain.Tier) bool {
	switch tier {
	case domain.TierBasic:
		return r.basic != nil
	case domain.TierEnsemble:
		return r.ensemble != nil
	case domain.TierAdvanced:
		return r.advanced != nil
	default:
		return false
	}
}

// BestTier returns the most sophisticated loaded tier, in strict priority
// order advanced > ensemble > basic > none.
func (r *Registry) BestTier() domain.Tier {
	switch {
	case r.advanced != nil:
		return domain.TierAdvanced
	case r.ensemble != nil:
		return domain.TierEnsemble
	case r.basic != nil:
		return domain.TierBasic
	default:
		return domain.TierNone
	}
}

// AdvancedFeatures returns a copy of the advanced tier's required feature
// list, or nil when the tier is unavailable.
func (r *Registry) AdvancedFeatures() []string {
	if r.advanced == nil {
		return nil
	}
	out := make([]string, len(r.advanced.features))
	copy(out, r.advanced.features)
	return out
}

// EnsembleInfo returns the ensemble's diagnostics when the tier is loaded.
func (r *Registry) EnsembleInfo() (model.Info, bool) {
	if r.ensemble == nil {
		return model.Info{}, false
	}
	return r.ensemble.Info(), true
}
