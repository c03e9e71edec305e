package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// TrainOptions controls model fitting.
type TrainOptions struct {
	// L2 is the ridge penalty on the weights (not the bias).
	L2 float64

	// MaxIterations bounds the L-BFGS iterations.
	MaxIterations int
}

// DefaultTrainOptions mirrors a C=1 logistic regression.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{L2: 1, MaxIterations: 200}
}

// Train fits a scaler and logistic regression to X (one row per sample)
// and labels y (0 = HC, 1 = PD). Both classes must be present.
func Train(X [][]float64, y []int, opts TrainOptions) (*Model, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("need matching non-empty samples and labels, got %d and %d", len(X), len(y))
	}
	features := len(X[0])
	if features == 0 {
		return nil, errors.New("samples have no features")
	}

	var seen [classCount]int
	for i, row := range X {
		if len(row) != features {
			return nil, fmt.Errorf("%w: sample %d has %d features, expected %d", ErrShapeMismatch, i, len(row), features)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, fmt.Errorf("label %d of sample %d is not 0 or 1", y[i], i)
		}
		seen[y[i]]++
	}
	if seen[0] == 0 || seen[1] == 0 {
		return nil, fmt.Errorf("training data needs both classes, got %d HC and %d PD", seen[0], seen[1])
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultTrainOptions().MaxIterations
	}

	m := &Model{
		Kind:      KindLogistic,
		Features:  features,
		Mean:      make([]float64, features),
		Scale:     make([]float64, features),
		Samples:   len(X),
		TrainedAt: time.Now().UTC(),
	}
	fitScaler(m, X)

	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = m.transform(row)
	}

	w, err := fitLogistic(Z, y, opts)
	if err != nil {
		return nil, err
	}
	m.Weights = w[:features]
	m.Bias = w[features]
	return m, nil
}

// fitScaler sets the per-feature mean and population standard deviation.
// Constant features get a scale of 1.
func fitScaler(m *Model, X [][]float64) {
	col := make([]float64, len(X))
	for j := 0; j < m.Features; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		m.Mean[j] = mean
		m.Scale[j] = math.Sqrt(variance)
		if m.Scale[j] < 1e-12 {
			m.Scale[j] = 1
		}
	}
}

// fitLogistic minimises the mean negative log-likelihood plus an L2 penalty
// with L-BFGS. The returned slice holds the weights followed by the bias.
func fitLogistic(Z [][]float64, y []int, opts TrainOptions) ([]float64, error) {
	n := len(Z)
	d := len(Z[0])
	lambda := opts.L2 / float64(n)

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			var loss float64
			for i, z := range Z {
				s := floats.Dot(w[:d], z) + w[d]
				// log(1 + exp(s)) - y*s, computed stably
				loss += softplus(s) - float64(y[i])*s
			}
			return loss/float64(n) + 0.5*lambda*floats.Dot(w[:d], w[:d])
		},
		Grad: func(grad, w []float64) {
			for i := range grad {
				grad[i] = 0
			}
			for i, z := range Z {
				r := sigmoid(floats.Dot(w[:d], z)+w[d]) - float64(y[i])
				floats.AddScaled(grad[:d], r, z)
				grad[d] += r
			}
			floats.Scale(1/float64(n), grad)
			floats.AddScaled(grad[:d], lambda, w[:d])
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		GradientThreshold: 1e-6,
	}
	result, err := optimize.Minimize(problem, make([]float64, d+1), settings, &optimize.LBFGS{})
	if result == nil {
		return nil, fmt.Errorf("logistic regression did not run: %w", err)
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("logistic regression diverged")
		}
	}
	return result.X, nil
}

func softplus(s float64) float64 {
	if s > 0 {
		return s + math.Log1p(math.Exp(-s))
	}
	return math.Log1p(math.Exp(s))
}

// TrainPlaceholder fits a model on uniformly random features and random
// labels. The result is marked Synthetic and carries no diagnostic value.
func TrainPlaceholder(features, samples int, seed uint64) (*Model, error) {
	if features < 1 {
		return nil, fmt.Errorf("placeholder needs at least one feature, got %d", features)
	}
	if samples < 2 {
		return nil, fmt.Errorf("placeholder needs at least two samples, got %d", samples)
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))

	X := make([][]float64, samples)
	y := make([]int, samples)
	for i := range X {
		X[i] = make([]float64, features)
		for j := range X[i] {
			X[i][j] = rng.Float64()
		}
		y[i] = i % 2
	}
	rng.Shuffle(len(y), func(i, j int) { y[i], y[j] = y[j], y[i] })

	m, err := Train(X, y, DefaultTrainOptions())
	if err != nil {
		return nil, err
	}
	m.Synthetic = true
	return m, nil
}
