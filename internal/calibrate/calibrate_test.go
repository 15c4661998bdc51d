package calibrate_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/airshed/aod-calibration-service/internal/calibrate"
	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/model"
	"github.com/airshed/aod-calibration-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ArtifactStore.
type memStore struct {
	artifacts map[string][]byte
}

func (s *memStore) Get(_ context.Context, name string) ([]byte, error) {
	data, ok := s.artifacts[name]
	if !ok {
		return nil, fmt.Errorf("artifact %q not found", name)
	}
	return data, nil
}

func (s *memStore) Exists(_ context.Context, name string) (bool, error) {
	_, ok := s.artifacts[name]
	return ok, nil
}

// basicArtifacts builds a scaler/model pair that is linear in normalized
// AOD: value = 50 + 10 * (aod - 300) / 100.
func basicArtifacts(t *testing.T) (scaler, regressor []byte) {
	t.Helper()
	s := &model.Scaler{Mean: []float64{300, 25, 35, 0}, Std: []float64{100, 1, 1, 1}}
	m := &model.Linear{Intercept: 50, Coef: []float64{10, 0, 0, 0}}

	scalerData, err := model.EncodeScaler(s)
	require.NoError(t, err)
	modelData, err := model.EncodeRegressor(m)
	require.NoError(t, err)
	return scalerData, modelData
}

func ensembleArtifact(t *testing.T) []byte {
	t.Helper()
	s := &model.Scaler{Mean: []float64{300, 25, 35, 0}, Std: []float64{100, 1, 1, 1}}
	e, err := model.NewEnsemble(
		map[string]model.Regressor{
			"linear": &model.Linear{Intercept: 60, Coef: []float64{10, 0, 0, 0}},
			"ridge":  &model.Ridge{Intercept: 40, Coef: []float64{10, 0, 0, 0}},
		},
		map[string]float64{"linear": 0.5, "ridge": 0.5},
		s,
		map[string]model.Score{"linear": {R2: 0.8, MAE: 4}, "ridge": {R2: 0.4, MAE: 8}},
	)
	require.NoError(t, err)

	data, err := model.EncodeEnsemble(e)
	require.NoError(t, err)
	return data
}

func advancedArtifacts(t *testing.T) (scaler, regressor, features []byte) {
	t.Helper()
	names := domain.AdvancedFeatureList()

	mean := make([]float64, len(names))
	std := make([]float64, len(names))
	coef := make([]float64, len(names))
	for i := range std {
		std[i] = 1
	}
	coef[0] = 0.25 // satellite_aod

	scalerData, err := model.EncodeScaler(&model.Scaler{Mean: mean, Std: std})
	require.NoError(t, err)
	modelData, err := model.EncodeRegressor(&model.Linear{Intercept: 5, Coef: coef})
	require.NoError(t, err)
	featuresData, err := model.EncodeFeatureList(names)
	require.NoError(t, err)
	return scalerData, modelData, featuresData
}

func fullStore(t *testing.T) *memStore {
	t.Helper()
	basicScaler, basicModel := basicArtifacts(t)
	advScaler, advModel, advFeatures := advancedArtifacts(t)
	return &memStore{artifacts: map[string][]byte{
		calibrate.ArtifactBasicModel:       basicModel,
		calibrate.ArtifactBasicScaler:      basicScaler,
		calibrate.ArtifactEnsemble:         ensembleArtifact(t),
		calibrate.ArtifactAdvancedModel:    advModel,
		calibrate.ArtifactAdvancedScaler:   advScaler,
		calibrate.ArtifactAdvancedFeatures: advFeatures,
	}}
}

func loadedRegistry(t *testing.T, store *memStore) *calibrate.Registry {
	t.Helper()
	r := calibrate.NewRegistry(store, slog.Default(), observability.NewMetricsForTesting())
	r.LoadAll(context.Background())
	return r
}

func newDispatcher(t *testing.T, store *memStore) *calibrate.Dispatcher {
	t.Helper()
	return calibrate.NewDispatcher(loadedRegistry(t, store), slog.Default(), observability.NewMetricsForTesting())
}

func TestRegistry_LoadAll(t *testing.T) {
	r := loadedRegistry(t, fullStore(t))

	assert.True(t, r.Available(domain.TierBasic))
	assert.True(t, r.Available(domain.TierEnsemble))
	assert.True(t, r.Available(domain.TierAdvanced))
	assert.Equal(t, domain.TierAdvanced, r.BestTier())
	assert.Equal(t, domain.AdvancedFeatureList(), r.AdvancedFeatures())
}

func TestRegistry_TierIsAtomic(t *testing.T) {
	t.Run("advanced without feature list", func(t *testing.T) {
		store := fullStore(t)
		delete(store.artifacts, calibrate.ArtifactAdvancedFeatures)

		r := loadedRegistry(t, store)
		assert.False(t, r.Available(domain.TierAdvanced))
		assert.Equal(t, domain.TierEnsemble, r.BestTier())
		assert.Nil(t, r.AdvancedFeatures())
	})

	t.Run("basic without scaler", func(t *testing.T) {
		store := fullStore(t)
		delete(store.artifacts, calibrate.ArtifactBasicScaler)

		r := loadedRegistry(t, store)
		assert.False(t, r.Available(domain.TierBasic))
	})

	t.Run("corrupt ensemble artifact", func(t *testing.T) {
		store := fullStore(t)
		store.artifacts[calibrate.ArtifactEnsemble] = []byte("not msgpack")

		r := loadedRegistry(t, store)
		assert.False(t, r.Available(domain.TierEnsemble))
	})
}

func TestRegistry_BestTierPriority(t *testing.T) {
	store := fullStore(t)

	r := loadedRegistry(t, store)
	require.Equal(t, domain.TierAdvanced, r.BestTier())

	delete(store.artifacts, calibrate.ArtifactAdvancedModel)
	r = loadedRegistry(t, store)
	require.Equal(t, domain.TierEnsemble, r.BestTier())

	delete(store.artifacts, calibrate.ArtifactEnsemble)
	r = loadedRegistry(t, store)
	require.Equal(t, domain.TierBasic, r.BestTier())

	r = loadedRegistry(t, &memStore{artifacts: map[string][]byte{}})
	require.Equal(t, domain.TierNone, r.BestTier())
}

func TestDispatcher_UsesBestTier(t *testing.T) {
	d := newDispatcher(t, fullStore(t))

	result, err := d.Calibrate(context.Background(), calibrate.CanonicalObservation(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.TierAdvanced, result.Tier)
	assert.Equal(t, "3.0", result.Version)
	assert.Equal(t, "very_high", result.Confidence)
	assert.Equal(t, len(domain.AdvancedFeatureList()), result.FeaturesUsed)
	// Identity-scaled linear model: 5 + 0.25*300.
	assert.InDelta(t, 80.0, result.Value, 1e-9)
}

func TestDispatcher_BasicScenario(t *testing.T) {
	store := fullStore(t)
	delete(store.artifacts, calibrate.ArtifactEnsemble)
	delete(store.artifacts, calibrate.ArtifactAdvancedModel)
	d := newDispatcher(t, store)

	// Replaying the scaler+model offline: aod 300 normalizes to 0, so the
	// linear-in-normalized-AOD model returns its intercept exactly.
	result, err := d.Calibrate(context.Background(), calibrate.CanonicalObservation(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.TierBasic, result.Tier)
	assert.Equal(t, "1.0", result.Version)
	assert.Equal(t, "standard", result.Confidence)
	assert.InDelta(t, 50.0, result.Value, 1e-9)

	obs := calibrate.CanonicalObservation()
	obs.AOD = 450
	result, err = d.Calibrate(context.Background(), obs, "")
	require.NoError(t, err)
	assert.InDelta(t, 65.0, result.Value, 1e-9)
}

func TestDispatcher_EnsembleResult(t *testing.T) {
	d := newDispatcher(t, fullStore(t))

	result, err := d.Calibrate(context.Background(), calibrate.CanonicalObservation(), domain.TierEnsemble)
	require.NoError(t, err)
	assert.Equal(t, domain.TierEnsemble, result.Tier)
	assert.Equal(t, "2.0", result.Version)
	// 0.5*60 + 0.5*40 at the scaler's center point.
	assert.InDelta(t, 50.0, result.Value, 1e-9)
	assert.InDelta(t, 0.5, result.EnsembleWeights["linear"], 1e-9)
	assert.InDelta(t, 0.5, result.EnsembleWeights["ridge"], 1e-9)
}

func TestDispatcher_ForcedTierUnavailable(t *testing.T) {
	store := fullStore(t)
	delete(store.artifacts, calibrate.ArtifactAdvancedScaler)
	d := newDispatcher(t, store)

	_, err := d.Calibrate(context.Background(), calibrate.CanonicalObservation(), domain.TierAdvanced)
	var unavailable *domain.TierUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, domain.TierAdvanced, unavailable.Tier)
}

func TestDispatcher_NoModelAvailable(t *testing.T) {
	d := newDispatcher(t, &memStore{artifacts: map[string][]byte{}})

	_, err := d.Calibrate(context.Background(), calibrate.CanonicalObservation(), "")
	require.ErrorIs(t, err, domain.ErrNoModelAvailable)
	require.Error(t, d.CheckReadiness(context.Background()))
}

func TestDispatcher_ValueRounding(t *testing.T) {
	store := fullStore(t)
	delete(store.artifacts, calibrate.ArtifactEnsemble)
	delete(store.artifacts, calibrate.ArtifactAdvancedModel)
	d := newDispatcher(t, store)

	obs := calibrate.CanonicalObservation()
	obs.AOD = 301.234 // normalized 0.01234 → 50.1234
	result, err := d.Calibrate(context.Background(), obs, "")
	require.NoError(t, err)
	assert.Equal(t, 50.12, result.Value)
}

func TestDispatcher_SelfTest(t *testing.T) {
	t.Run("all tiers pass", func(t *testing.T) {
		d := newDispatcher(t, fullStore(t))
		checks := d.SelfTest(context.Background())

		require.Len(t, checks, 3)
		for tier, check := range checks {
			require.NoError(t, check.Err, "tier %s", tier)
			require.NotNil(t, check.Result)
		}
	})

	t.Run("skips unloaded tiers", func(t *testing.T) {
		store := fullStore(t)
		delete(store.artifacts, calibrate.ArtifactEnsemble)
		d := newDispatcher(t, store)

		checks := d.SelfTest(context.Background())
		require.Len(t, checks, 2)
		_, hasEnsemble := checks[domain.TierEnsemble]
		assert.False(t, hasEnsemble)
	})
}

func TestDispatcher_ReadinessWithAnyTier(t *testing.T) {
	store := fullStore(t)
	delete(store.artifacts, calibrate.ArtifactAdvancedModel)
	delete(store.artifacts, calibrate.ArtifactEnsemble)
	d := newDispatcher(t, store)

	require.NoError(t, d.CheckReadiness(context.Background()))
}

var errBoom = errors.New("boom")

// failingStore fails every read, exercising the non-fatal load path.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error)  { return nil, errBoom }
func (failingStore) Exists(context.Context, string) (bool, error) { return false, errBoom }

func TestRegistry_LoadFailuresAreNonFatal(t *testing.T) {
	r := calibrate.NewRegistry(failingStore{}, slog.Default(), observability.NewMetricsForTesting())
	r.LoadAll(context.Background())
	assert.Equal(t, domain.TierNone, r.BestTier())
}
