package train_test

import (
	"context"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/airshed/aod-calibration-service/internal/calibrate"
	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/model"
	"github.com/airshed/aod-calibration-service/internal/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	artifacts map[string][]byte
}

func newMemWriter() *memWriter {
	return &memWriter{artifacts: map[string][]byte{}}
}

func (w *memWriter) Put(_ context.Context, name string, data []byte) error {
	w.artifacts[name] = data
	return nil
}

// syntheticReadings builds hourly readings whose PM2.5 is a smooth function
// of AOD and temperature plus a little noise, so a decent fit should explain
// most of the variance.
func syntheticReadings(n int) []domain.Reading {
	rng := rand.New(rand.NewSource(7))
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	readings := make([]domain.Reading, n)
	for i := range readings {
		aod := 50 + rng.Float64()*450
		minTemp := 15 + rng.Float64()*10
		maxTemp := minTemp + 5 + rng.Float64()*10
		rainfall := 0.0
		if rng.Float64() < 0.2 {
			rainfall = rng.Float64() * 20
		}
		pm25 := 10 + 0.15*aod + 0.5*(maxTemp-25) - 0.3*rainfall + rng.NormFloat64()*2

		readings[i] = domain.Reading{
			Station: "station-1",
			Observation: domain.Observation{
				AOD:       aod,
				MinTemp:   minTemp,
				MaxTemp:   maxTemp,
				Rainfall:  rainfall,
				Timestamp: start.Add(time.Duration(i) * time.Hour),
			},
			PM25: &pm25,
		}
	}
	return readings
}

func TestFitLinear_RecoversCoefficients(t *testing.T) {
	// Noiseless y = 3 + 2*x0 - 0.5*x1.
	rng := rand.New(rand.NewSource(1))
	x := make([][]float64, 200)
	y := make([]float64, 200)
	for i := range x {
		x[i] = []float64{rng.Float64() * 10, rng.Float64() * 10}
		y[i] = 3 + 2*x[i][0] - 0.5*x[i][1]
	}

	m, err := train.FitLinear(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 3, m.Intercept, 1e-8)
	assert.InDelta(t, 2, m.Coef[0], 1e-8)
	assert.InDelta(t, -0.5, m.Coef[1], 1e-8)
}

func TestFitRidge_ShrinksTowardLinear(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := make([][]float64, 200)
	y := make([]float64, 200)
	for i := range x {
		x[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
		y[i] = 1 + 4*x[i][0] + rng.NormFloat64()*0.1
	}

	m, err := train.FitRidge(x, y, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 1, m.Intercept, 0.1)
	assert.InDelta(t, 4, m.Coef[0], 0.1)
	assert.Equal(t, 0.01, m.Lambda)
}

func TestFitBoostedStumps_BeatsMeanPredictor(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := make([][]float64, 300)
	y := make([]float64, 300)
	for i := range x {
		x[i] = []float64{rng.Float64() * 100}
		y[i] = 5 + 0.8*x[i][0]
	}

	m, err := train.FitBoostedStumps(x, y, 200, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, m.Stumps)

	var meanSSE, modelSSE float64
	for i := range x {
		p, err := m.Predict(x[i])
		require.NoError(t, err)
		meanDiff := y[i] - m.Base
		modelDiff := y[i] - p
		meanSSE += meanDiff * meanDiff
		modelSSE += modelDiff * modelDiff
	}
	assert.Less(t, modelSSE, meanSSE/10)
}

func TestDeriveWeights(t *testing.T) {
	t.Run("proportional to best", func(t *testing.T) {
		w := train.DeriveWeights(map[string]model.Score{
			"a": {R2: 0.8},
			"b": {R2: 0.4},
		})
		assert.InDelta(t, 2.0/3.0, w["a"], 1e-9)
		assert.InDelta(t, 1.0/3.0, w["b"], 1e-9)
	})

	t.Run("negative scores clamp to zero", func(t *testing.T) {
		w := train.DeriveWeights(map[string]model.Score{
			"good": {R2: 0.5},
			"bad":  {R2: -2.0},
		})
		assert.InDelta(t, 1.0, w["good"], 1e-9)
		assert.InDelta(t, 0.0, w["bad"], 1e-9)
	})

	t.Run("uniform when nothing beats the mean", func(t *testing.T) {
		w := train.DeriveWeights(map[string]model.Score{
			"a": {R2: -0.3},
			"b": {R2: 0},
			"c": {R2: -1.1},
		})
		for name, weight := range w {
			assert.InDelta(t, 1.0/3.0, weight, 1e-9, "member %s", name)
		}
	})

	t.Run("always sums to one", func(t *testing.T) {
		w := train.DeriveWeights(map[string]model.Score{
			"a": {R2: 0.9}, "b": {R2: 0.1}, "c": {R2: -0.5}, "d": {R2: 0.6},
		})
		var total float64
		for _, weight := range w {
			total += weight
		}
		assert.InDelta(t, 1.0, total, model.WeightTolerance)
	})
}

func TestTrainBasic(t *testing.T) {
	store := newMemWriter()
	trainer := train.NewTrainer(store, slog.Default())

	report, err := trainer.TrainBasic(context.Background(), syntheticReadings(200))
	require.NoError(t, err)
	assert.Equal(t, domain.TierBasic, report.Tier)
	assert.Equal(t, 200, report.Rows)
	assert.Greater(t, report.Score.R2, 0.8)

	m, err := model.DecodeRegressor(store.artifacts[calibrate.ArtifactBasicModel])
	require.NoError(t, err)
	assert.Equal(t, 4, m.NumFeatures())

	s, err := model.DecodeScaler(store.artifacts[calibrate.ArtifactBasicScaler])
	require.NoError(t, err)
	assert.Equal(t, 4, s.Dim())
}

func TestTrainBasic_TooFewRows(t *testing.T) {
	trainer := train.NewTrainer(newMemWriter(), slog.Default())
	_, err := trainer.TrainBasic(context.Background(), syntheticReadings(20))
	require.Error(t, err)
}

func TestTrainBasic_IsDeterministic(t *testing.T) {
	readings := syntheticReadings(150)

	first := newMemWriter()
	_, err := train.NewTrainer(first, slog.Default()).TrainBasic(context.Background(), readings)
	require.NoError(t, err)

	second := newMemWriter()
	_, err = train.NewTrainer(second, slog.Default()).TrainBasic(context.Background(), readings)
	require.NoError(t, err)

	assert.Equal(t, first.artifacts[calibrate.ArtifactBasicModel], second.artifacts[calibrate.ArtifactBasicModel])
	assert.Equal(t, first.artifacts[calibrate.ArtifactBasicScaler], second.artifacts[calibrate.ArtifactBasicScaler])
}

func TestTrainEnsemble(t *testing.T) {
	store := newMemWriter()
	trainer := train.NewTrainer(store, slog.Default())

	report, err := trainer.TrainEnsemble(context.Background(), syntheticReadings(300))
	require.NoError(t, err)
	assert.Equal(t, domain.TierEnsemble, report.Tier)
	assert.Len(t, report.MemberScores, 4)

	var total float64
	for _, w := range report.Weights {
		total += w
	}
	assert.InDelta(t, 1.0, total, model.WeightTolerance)

	e, err := model.DecodeEnsemble(store.artifacts[calibrate.ArtifactEnsemble])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gb", "linear", "ridge", "knn"}, e.Info().Members)
	assert.Equal(t, 4, e.ScalerDim())
}

func TestTrainEnsemble_TooFewRows(t *testing.T) {
	trainer := train.NewTrainer(newMemWriter(), slog.Default())
	_, err := trainer.TrainEnsemble(context.Background(), syntheticReadings(60))
	require.Error(t, err)
}

func TestTrainAdvanced(t *testing.T) {
	store := newMemWriter()
	trainer := train.NewTrainer(store, slog.Default())

	report, err := trainer.TrainAdvanced(context.Background(), syntheticReadings(300))
	require.NoError(t, err)
	assert.Equal(t, domain.TierAdvanced, report.Tier)
	assert.Equal(t, 300, report.Rows)

	names, err := model.DecodeFeatureList(store.artifacts[calibrate.ArtifactAdvancedFeatures])
	require.NoError(t, err)
	assert.Equal(t, domain.AdvancedFeatureList(), names)

	s, err := model.DecodeScaler(store.artifacts[calibrate.ArtifactAdvancedScaler])
	require.NoError(t, err)
	assert.Equal(t, len(names), s.Dim())

	m, err := model.DecodeRegressor(store.artifacts[calibrate.ArtifactAdvancedModel])
	require.NoError(t, err)
	assert.Equal(t, len(names), m.NumFeatures())
}

func TestTrainAdvanced_UnlabeledReadingsContributeHistoryOnly(t *testing.T) {
	readings := syntheticReadings(150)
	for i := range readings {
		if i%3 == 0 {
			readings[i].PM25 = nil
		}
	}

	trainer := train.NewTrainer(newMemWriter(), slog.Default())
	report, err := trainer.TrainAdvanced(context.Background(), readings)
	require.NoError(t, err)
	assert.Equal(t, 100, report.Rows)
}

func TestTrainedArtifactsServeEndToEnd(t *testing.T) {
	store := newMemWriter()
	trainer := train.NewTrainer(store, slog.Default())

	_, err := trainer.TrainBasic(context.Background(), syntheticReadings(200))
	require.NoError(t, err)

	m, err := model.DecodeRegressor(store.artifacts[calibrate.ArtifactBasicModel])
	require.NoError(t, err)
	s, err := model.DecodeScaler(store.artifacts[calibrate.ArtifactBasicScaler])
	require.NoError(t, err)

	// A mid-range observation should land in a plausible PM2.5 band for the
	// synthetic relationship.
	scaled, err := s.Transform([]float64{300, 20, 32, 0})
	require.NoError(t, err)
	value, err := m.Predict(scaled)
	require.NoError(t, err)
	assert.InDelta(t, 10+0.15*300+0.5*(32-25), value, 15)
}
