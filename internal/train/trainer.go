// Package train fits calibration artifacts from labeled station readings and
// persists them to the model store under the names the registry loads.
// Training is an offline batch concern; nothing here runs on the serving path.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/airshed/aod-calibration-service/internal/calibrate"
	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/model"
)

const (
	splitSeed    = 42
	testFraction = 0.2

	minBasicRows    = 50
	minEnsembleRows = 100
	minAdvancedRows = 100

	basicRounds       = 300
	basicLearningRate = 0.1

	ensembleRounds       = 200
	ensembleLearningRate = 0.1
	ridgeLambda          = 1.0
	knnNeighbors         = 5

	advancedRounds       = 500
	advancedLearningRate = 0.05

	// Stump threshold candidates sampled per feature column.
	thresholdCandidates = 16
)

// ArtifactWriter is the model-store contract the trainer persists through.
type ArtifactWriter interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Report summarizes one completed training run.
type Report struct {
	Tier  domain.Tier
	Rows  int
	Score model.Score

	// MemberScores and Weights are set for the ensemble tier only.
	MemberScores map[string]model.Score
	Weights      map[string]float64
}

// Trainer fits tier artifacts from ground-truth readings.
type Trainer struct {
	store  ArtifactWriter
	logger *slog.Logger
}

func NewTrainer(store ArtifactWriter, logger *slog.Logger) *Trainer {
	return &Trainer{store: store, logger: logger}
}

// TrainBasic fits the basic tier: a standard scaler over the raw 4-tuple and
// a gradient-boosted regressor on the scaled rows.
func (t *Trainer) TrainBasic(ctx context.Context, readings []domain.Reading) (Report, error) {
	x, y := labeledRows(readings)
	if len(x) < minBasicRows {
		return Report{}, fmt.Errorf("basic tier needs at least %d labeled readings, have %d", minBasicRows, len(x))
	}

	xTrain, yTrain, xTest, yTest := splitRows(x, y)
	scaler, err := model.FitScaler(xTrain)
	if err != nil {
		return Report{}, err
	}
	sTrain, err := scaler.TransformAll(xTrain)
	if err != nil {
		return Report{}, err
	}
	sTest, err := scaler.TransformAll(xTest)
	if err != nil {
		return Report{}, err
	}

	m, err := FitBoostedStumps(sTrain, yTrain, basicRounds, basicLearningRate)
	if err != nil {
		return Report{}, err
	}
	score, err := evaluate(m, sTest, yTest)
	if err != nil {
		return Report{}, err
	}

	if err := t.putRegressor(ctx, calibrate.ArtifactBasicModel, m); err != nil {
		return Report{}, err
	}
	if err := t.putScaler(ctx, calibrate.ArtifactBasicScaler, scaler); err != nil {
		return Report{}, err
	}

	t.logger.Info("basic calibrator trained",
		"rows", len(x), "r2", score.R2, "mae", score.MAE)
	return Report{Tier: domain.TierBasic, Rows: len(x), Score: score}, nil
}

// TrainEnsemble fits the ensemble tier: four base learners sharing one scaler,
// blended with weights derived from each member's held-out R².
func (t *Trainer) TrainEnsemble(ctx context.Context, readings []domain.Reading) (Report, error) {
	x, y := labeledRows(readings)
	if len(x) < minEnsembleRows {
		return Report{}, fmt.Errorf("ensemble tier needs at least %d labeled readings, have %d", minEnsembleRows, len(x))
	}

	xTrain, yTrain, xTest, yTest := splitRows(x, y)
	scaler, err := model.FitScaler(xTrain)
	if err != nil {
		return Report{}, err
	}
	sTrain, err := scaler.TransformAll(xTrain)
	if err != nil {
		return Report{}, err
	}
	sTest, err := scaler.TransformAll(xTest)
	if err != nil {
		return Report{}, err
	}

	gb, err := FitBoostedStumps(sTrain, yTrain, ensembleRounds, ensembleLearningRate)
	if err != nil {
		return Report{}, err
	}
	linear, err := FitLinear(sTrain, yTrain)
	if err != nil {
		return Report{}, err
	}
	ridge, err := FitRidge(sTrain, yTrain, ridgeLambda)
	if err != nil {
		return Report{}, err
	}
	knn := FitKNN(sTrain, yTrain, knnNeighbors)

	members := map[string]model.Regressor{
		"gb":     gb,
		"linear": linear,
		"ridge":  ridge,
		"knn":    knn,
	}
	scores := make(map[string]model.Score, len(members))
	for name, m := range members {
		s, err := evaluate(m, sTest, yTest)
		if err != nil {
			return Report{}, fmt.Errorf("member %q: %w", name, err)
		}
		scores[name] = s
	}
	weights := DeriveWeights(scores)

	e, err := model.NewEnsemble(members, weights, scaler, scores)
	if err != nil {
		return Report{}, err
	}
	blended, err := e.Predict(sTest)
	if err != nil {
		return Report{}, err
	}
	score := scoreOf(blended, yTest)

	data, err := model.EncodeEnsemble(e)
	if err != nil {
		return Report{}, err
	}
	if err := t.store.Put(ctx, calibrate.ArtifactEnsemble, data); err != nil {
		return Report{}, fmt.Errorf("persist %s: %w", calibrate.ArtifactEnsemble, err)
	}

	t.logger.Info("ensemble calibrator trained",
		"rows", len(x), "r2", score.R2, "mae", score.MAE, "weights", weights)
	return Report{
		Tier:         domain.TierEnsemble,
		Rows:         len(x),
		Score:        score,
		MemberScores: scores,
		Weights:      weights,
	}, nil
}

// TrainAdvanced fits the advanced tier on the full derived feature set.
// Every reading contributes history to the temporal features; only labeled
// readings contribute training rows.
func (t *Trainer) TrainAdvanced(ctx context.Context, readings []domain.Reading) (Report, error) {
	ordered := make([]domain.Reading, len(readings))
	copy(ordered, readings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Observation.Timestamp.Before(ordered[j].Observation.Timestamp)
	})

	obs := make([]domain.Observation, len(ordered))
	for i, r := range ordered {
		obs[i] = r.Observation
	}
	rows := domain.AdvancedSeries(obs)
	names := domain.AdvancedFeatureList()

	var x [][]float64
	var y []float64
	for i, r := range ordered {
		if r.PM25 == nil {
			continue
		}
		features, err := domain.SelectFeatures(rows[i], names)
		if err != nil {
			return Report{}, err
		}
		x = append(x, features)
		y = append(y, *r.PM25)
	}
	if len(x) < minAdvancedRows {
		return Report{}, fmt.Errorf("advanced tier needs at least %d labeled readings, have %d", minAdvancedRows, len(x))
	}

	xTrain, yTrain, xTest, yTest := splitRows(x, y)
	scaler, err := model.FitScaler(xTrain)
	if err != nil {
		return Report{}, err
	}
	sTrain, err := scaler.TransformAll(xTrain)
	if err != nil {
		return Report{}, err
	}
	sTest, err := scaler.TransformAll(xTest)
	if err != nil {
		return Report{}, err
	}

	m, err := FitBoostedStumps(sTrain, yTrain, advancedRounds, advancedLearningRate)
	if err != nil {
		return Report{}, err
	}
	score, err := evaluate(m, sTest, yTest)
	if err != nil {
		return Report{}, err
	}

	if err := t.putRegressor(ctx, calibrate.ArtifactAdvancedModel, m); err != nil {
		return Report{}, err
	}
	if err := t.putScaler(ctx, calibrate.ArtifactAdvancedScaler, scaler); err != nil {
		return Report{}, err
	}
	featureData, err := model.EncodeFeatureList(names)
	if err != nil {
		return Report{}, err
	}
	if err := t.store.Put(ctx, calibrate.ArtifactAdvancedFeatures, featureData); err != nil {
		return Report{}, fmt.Errorf("persist %s: %w", calibrate.ArtifactAdvancedFeatures, err)
	}

	t.logger.Info("advanced calibrator trained",
		"rows", len(x), "features", len(names), "r2", score.R2, "mae", score.MAE)
	return Report{Tier: domain.TierAdvanced, Rows: len(x), Score: score}, nil
}

func (t *Trainer) putRegressor(ctx context.Context, name string, m model.Regressor) error {
	data, err := model.EncodeRegressor(m)
	if err != nil {
		return err
	}
	if err := t.store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}
	return nil
}

func (t *Trainer) putScaler(ctx context.Context, name string, s *model.Scaler) error {
	data, err := model.EncodeScaler(s)
	if err != nil {
		return err
	}
	if err := t.store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}
	return nil
}

// labeledRows extracts base feature rows and targets from readings that carry
// a ground-truth label.
func labeledRows(readings []domain.Reading) ([][]float64, []float64) {
	var x [][]float64
	var y []float64
	for _, r := range readings {
		if r.PM25 == nil {
			continue
		}
		x = append(x, domain.BaseFeatures(r.Observation))
		y = append(y, *r.PM25)
	}
	return x, y
}

// splitRows shuffles with a fixed seed and holds out the tail as a test set,
// so repeated runs over the same data produce the same artifacts.
func splitRows(x [][]float64, y []float64) (xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) {
	rng := rand.New(rand.NewSource(splitSeed))
	perm := rng.Perm(len(x))

	nTest := int(float64(len(x)) * testFraction)
	if nTest < 1 {
		nTest = 1
	}
	nTrain := len(x) - nTest

	for i, idx := range perm {
		if i < nTrain {
			xTrain = append(xTrain, x[idx])
			yTrain = append(yTrain, y[idx])
		} else {
			xTest = append(xTest, x[idx])
			yTest = append(yTest, y[idx])
		}
	}
	return xTrain, yTrain, xTest, yTest
}

// FitLinear fits ordinary least squares via QR decomposition of the design
// matrix with an intercept column.
func FitLinear(x [][]float64, y []float64) (*model.Linear, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, fmt.Errorf("fit linear: %d rows, %d targets", n, len(y))
	}
	d := len(x[0])

	a := mat.NewDense(n, d+1, nil)
	for i, row := range x {
		if len(row) != d {
			return nil, fmt.Errorf("fit linear: row %d has %d features, want %d", i, len(row), d)
		}
		a.Set(i, 0, 1)
		for j, v := range row {
			a.Set(i, j+1, v)
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))

	var qr mat.QR
	qr.Factorize(a)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return nil, fmt.Errorf("fit linear: %w", err)
	}

	coef := make([]float64, d)
	for j := 0; j < d; j++ {
		coef[j] = sol.AtVec(j + 1)
	}
	return &model.Linear{Intercept: sol.AtVec(0), Coef: coef}, nil
}

// FitRidge solves the L2-regularized normal equations. The intercept is not
// penalized.
func FitRidge(x [][]float64, y []float64, lambda float64) (*model.Ridge, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, fmt.Errorf("fit ridge: %d rows, %d targets", n, len(y))
	}
	d := len(x[0])

	a := mat.NewDense(n, d+1, nil)
	for i, row := range x {
		if len(row) != d {
			return nil, fmt.Errorf("fit ridge: row %d has %d features, want %d", i, len(row), d)
		}
		a.Set(i, 0, 1)
		for j, v := range row {
			a.Set(i, j+1, v)
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))

	var ata mat.Dense
	ata.Mul(a.T(), a)
	for j := 1; j <= d; j++ {
		ata.Set(j, j, ata.At(j, j)+lambda)
	}
	var atb mat.VecDense
	atb.MulVec(a.T(), b)

	var sol mat.VecDense
	if err := sol.SolveVec(&ata, &atb); err != nil {
		return nil, fmt.Errorf("fit ridge: %w", err)
	}

	coef := make([]float64, d)
	for j := 0; j < d; j++ {
		coef[j] = sol.AtVec(j + 1)
	}
	return &model.Ridge{Intercept: sol.AtVec(0), Coef: coef, Lambda: lambda}, nil
}

// FitBoostedStumps runs gradient boosting with depth-one trees on the squared
// loss: each round fits the best single-split stump to the current residuals.
func FitBoostedStumps(x [][]float64, y []float64, rounds int, learningRate float64) (*model.BoostedStumps, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, fmt.Errorf("fit boosted stumps: %d rows, %d targets", n, len(y))
	}
	d := len(x[0])

	base := stat.Mean(y, nil)
	m := &model.BoostedStumps{Base: base, LearningRate: learningRate, Features: d}

	residual := make([]float64, n)
	for i := range y {
		residual[i] = y[i] - base
	}

	for round := 0; round < rounds; round++ {
		s, ok := fitStump(x, residual)
		if !ok {
			break
		}
		m.Stumps = append(m.Stumps, s)
		for i, row := range x {
			leaf := s.Right
			if row[s.Feature] <= s.Threshold {
				leaf = s.Left
			}
			residual[i] -= learningRate * leaf
		}
	}
	return m, nil
}

// fitStump finds the single split minimizing residual squared error across all
// features and candidate thresholds. ok is false when no threshold separates
// the rows.
func fitStump(x [][]float64, residual []float64) (model.Stump, bool) {
	d := len(x[0])
	best := model.Stump{}
	bestSSE := math.Inf(1)
	found := false

	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		for _, threshold := range stumpThresholds(col) {
			var leftSum, rightSum float64
			var leftN, rightN int
			for i, v := range col {
				if v <= threshold {
					leftSum += residual[i]
					leftN++
				} else {
					rightSum += residual[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)

			var sse float64
			for i, v := range col {
				leaf := rightMean
				if v <= threshold {
					leaf = leftMean
				}
				diff := residual[i] - leaf
				sse += diff * diff
			}
			if sse < bestSSE {
				bestSSE = sse
				best = model.Stump{Feature: j, Threshold: threshold, Left: leftMean, Right: rightMean}
				found = true
			}
		}
	}
	return best, found
}

// stumpThresholds samples up to thresholdCandidates split points from the
// column's quantiles, midway between neighbors so equal values land on one
// side.
func stumpThresholds(col []float64) []float64 {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)

	var out []float64
	for c := 1; c <= thresholdCandidates; c++ {
		idx := c * len(sorted) / (thresholdCandidates + 1)
		if idx <= 0 || idx >= len(sorted) {
			continue
		}
		threshold := (sorted[idx-1] + sorted[idx]) / 2
		if len(out) == 0 || threshold != out[len(out)-1] {
			out = append(out, threshold)
		}
	}
	return out
}

// FitKNN captures the scaled training set for nearest-neighbor prediction.
func FitKNN(x [][]float64, y []float64, k int) *model.KNN {
	return &model.KNN{
		K: k,
		X: append([][]float64(nil), x...),
		Y: append([]float64(nil), y...),
	}
}

// evaluate scores a regressor against a held-out set.
func evaluate(m model.Regressor, x [][]float64, y []float64) (model.Score, error) {
	preds := make([]float64, len(x))
	for i, row := range x {
		p, err := m.Predict(row)
		if err != nil {
			return model.Score{}, err
		}
		preds[i] = p
	}
	return scoreOf(preds, y), nil
}

func scoreOf(preds, y []float64) model.Score {
	var absSum float64
	for i := range y {
		absSum += math.Abs(preds[i] - y[i])
	}
	return model.Score{
		R2:  stat.RSquaredFrom(preds, y, nil),
		MAE: absSum / float64(len(y)),
	}
}

// DeriveWeights converts held-out R² scores into blend weights proportional
// to each member's score relative to the best. Negative scores clamp to zero
// so a member that fits worse than the mean never drags the blend; when no
// member beats the mean the blend falls back to uniform weights. The result
// always sums to 1.
func DeriveWeights(scores map[string]model.Score) map[string]float64 {
	weights := make(map[string]float64, len(scores))

	best := math.Inf(-1)
	for _, s := range scores {
		if s.R2 > best {
			best = s.R2
		}
	}
	if best <= 0 {
		uniform := 1 / float64(len(scores))
		for name := range scores {
			weights[name] = uniform
		}
		return weights
	}

	var total float64
	for name, s := range scores {
		w := math.Max(s.R2, 0) / best
		weights[name] = w
		total += w
	}
	for name := range weights {
		weights[name] /= total
	}
	return weights
}
