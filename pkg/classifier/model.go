// Package classifier holds the PD/HC connectivity classifier: a standard
// scaler followed by an L2-regularised logistic regression.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrModelMissing is returned when no serialized model exists.
	ErrModelMissing = errors.New("classifier: model missing")

	// ErrShapeMismatch is returned when a feature vector does not have the
	// length the model was trained on.
	ErrShapeMismatch = errors.New("classifier: feature length mismatch")

	// ErrCorruptModel is returned for unreadable or inconsistent model files.
	ErrCorruptModel = errors.New("classifier: corrupt model")
)

// KindLogistic identifies the scaler + logistic regression model.
const KindLogistic = "standard-scaler+logistic-regression"

// Class indexes the binary output space.
type Class int

const (
	HealthyControl    Class = 0
	ParkinsonsDisease Class = 1
	classCount              = 2
)

// Model is a trained classifier as stored on disk.
type Model struct {
	Kind      string    `json:"kind"`
	Features  int       `json:"features"`
	Mean      []float64 `json:"mean"`
	Scale     []float64 `json:"scale"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trainedAt"`

	// Synthetic marks a placeholder model trained on random data.
	Synthetic bool `json:"synthetic"`
}

// Prediction is the output of Predict.
type Prediction struct {
	Class         Class
	Probabilities [classCount]float64
}

// Confidence returns the probability of the predicted class as a
// percentage rounded to two decimals.
func (p Prediction) Confidence() float64 {
	return math.Round(p.Probabilities[p.Class]*100*100) / 100
}

// Validate checks that the model's parameters are mutually consistent.
func (m *Model) Validate() error {
	switch {
	case m.Kind != KindLogistic:
		return fmt.Errorf("%w: unknown kind %q", ErrCorruptModel, m.Kind)
	case m.Features <= 0:
		return fmt.Errorf("%w: feature count %d", ErrCorruptModel, m.Features)
	case len(m.Mean) != m.Features || len(m.Scale) != m.Features || len(m.Weights) != m.Features:
		return fmt.Errorf("%w: parameter lengths do not match %d features", ErrCorruptModel, m.Features)
	}
	for _, s := range m.Scale {
		if s == 0 || math.IsNaN(s) {
			return fmt.Errorf("%w: zero scale", ErrCorruptModel)
		}
	}
	return nil
}

// Predict classifies one feature vector.
func (m *Model) Predict(features []float64) (Prediction, error) {
	if len(features) != m.Features {
		return Prediction{}, fmt.Errorf("%w: got %d, model expects %d", ErrShapeMismatch, len(features), m.Features)
	}

	x := m.transform(features)
	p1 := sigmoid(floats.Dot(m.Weights, x) + m.Bias)

	pred := Prediction{Probabilities: [classCount]float64{1 - p1, p1}}
	if p1 >= 0.5 {
		pred.Class = ParkinsonsDisease
	}
	return pred, nil
}

// transform applies the standard scaler.
func (m *Model) transform(features []float64) []float64 {
	x := make([]float64, len(features))
	floats.SubTo(x, features, m.Mean)
	floats.Div(x, m.Scale)
	return x
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
