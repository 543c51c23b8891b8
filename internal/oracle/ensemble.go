package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/vecmath"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientData is returned by Fit when there are too few rows to train.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrIllConditioned is returned by Fit when a member's normal equations
	// have no unique solution, which only happens with a zero penalty.
	ErrIllConditioned = errors.New("ill-conditioned training data")
)

// member is one ridge regressor over standardized features.
type member struct {
	weights []float64
	bias    float64
}

func (m member) predict(x []float64) float64 {
	return m.bias + floats.Dot(m.weights, x)
}

// Ensemble is a bagged ridge-regression model. Each member is fit on a
// bootstrap resample; the prediction is the member mean and the confidence
// is 1 minus the member spread, floored at 0.
//
// An untrained Ensemble predicts {0, 0}. Ensemble is safe for concurrent use.
type Ensemble struct {
	size   int
	lambda float64

	mu      sync.RWMutex
	rng     *rand.Rand
	scaler  vecmath.Scaler
	members []member
	trained int
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithSize sets the number of bagged members.
func WithSize(n int) EnsembleOption {
	return func(e *Ensemble) { e.size = n }
}

// WithLambda sets the L2 penalty of each member.
func WithLambda(lambda float64) EnsembleOption {
	return func(e *Ensemble) { e.lambda = lambda }
}

// WithRand sets the resampling source.
func WithRand(rng *rand.Rand) EnsembleOption {
	return func(e *Ensemble) { e.rng = rng }
}

// NewEnsemble creates an untrained ensemble.
func NewEnsemble(opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{
		size:   constants.DefaultEnsembleSize,
		lambda: constants.DefaultRidgeLambda,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.size < 1 {
		e.size = 1
	}
	if e.lambda < 0 {
		e.lambda = 0
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(42, 42))
	}
	return e
}

// Available reports whether the ensemble has been trained.
func (e *Ensemble) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.members) > 0
}

// TrainedOn returns the number of rows used by the last successful Fit.
func (e *Ensemble) TrainedOn() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trained
}

// Fit trains every member on a bootstrap resample of rows, replacing any
// previous model. Rows with non-finite values are skipped.
func (e *Ensemble) Fit(rows []models.TrainingRow) error {
	xs := make([][]float64, 0, len(rows))
	ys := make([]float64, 0, len(rows))
	for _, r := range rows {
		v := r.Features.Vector()
		if !finiteRow(v[:]) || !finite(r.GroundTruth) {
			continue
		}
		xs = append(xs, v[:])
		ys = append(ys, r.GroundTruth)
	}
	if len(xs) < 2 {
		return fmt.Errorf("fitting ensemble on %d rows: %w", len(xs), ErrInsufficientData)
	}

	scaler := vecmath.FitScaler(xs)
	zs := make([][]float64, len(xs))
	for i, x := range xs {
		zs[i] = scaler.Transform(x)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	members := make([]member, 0, e.size)
	idx := make([]int, len(zs))
	for k := 0; k < e.size; k++ {
		for i := range idx {
			idx[i] = e.rng.IntN(len(zs))
		}
		m, err := fitRidge(zs, ys, idx, e.lambda)
		if err != nil {
			return fmt.Errorf("fitting ensemble member %d: %w", k, err)
		}
		members = append(members, m)
	}

	e.scaler = scaler
	e.members = members
	e.trained = len(xs)
	return nil
}

// Predict returns the ensemble estimate for feats.
func (e *Ensemble) Predict(ctx context.Context, feats models.ExtractedFeatures) (models.PredictionResult, error) {
	if err := ctx.Err(); err != nil {
		return models.PredictionResult{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.members) == 0 {
		return models.PredictionResult{}, nil
	}

	v := feats.Vector()
	z := e.scaler.Transform(v[:])

	preds := make([]float64, len(e.members))
	for i, m := range e.members {
		preds[i] = m.predict(z)
	}
	mean, std := vecmath.MeanStd(preds)

	return models.PredictionResult{
		Capacity:   mean,
		Confidence: math.Max(0, 1-std),
	}, nil
}

// fitRidge solves (XᵀX + λI)w = Xᵀy over the sampled rows, with an
// unpenalized intercept in column 0.
func fitRidge(zs [][]float64, ys []float64, idx []int, lambda float64) (member, error) {
	d := len(zs[0]) + 1
	x := mat.NewDense(len(idx), d, nil)
	y := mat.NewVecDense(len(idx), nil)
	for r, i := range idx {
		x.Set(r, 0, 1)
		for c, v := range zs[i] {
			x.Set(r, c+1, v)
		}
		y.SetVec(r, ys[i])
	}

	a := mat.NewSymDense(d, nil)
	a.SymOuterK(1, x.T())
	for j := 1; j < d; j++ {
		a.SetSym(j, j, a.At(j, j)+lambda)
	}
	var b mat.VecDense
	b.MulVec(x.T(), y)

	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return member{}, ErrIllConditioned
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &b); err != nil {
		return member{}, fmt.Errorf("%w: %v", ErrIllConditioned, err)
	}

	weights := make([]float64, d-1)
	for j := range weights {
		weights[j] = w.AtVec(j + 1)
	}
	return member{bias: w.AtVec(0), weights: weights}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteRow(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}
