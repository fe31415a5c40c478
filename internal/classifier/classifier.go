// Package classifier adapts a trained model to the two operations the
// service needs: the predicted class index and the per-class probability
// percentages.
package classifier

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch marks disagreement between a feature vector or a
// model output and the shape the model was trained with. It points at
// artifact version skew and is never retried.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// DimensionError describes a size disagreement.
type DimensionError struct {
	What string
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: %v: got %d, want %d", e.What, ErrDimensionMismatch, e.Got, e.Want)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// Model is a trained classifier.
type Model interface {
	// Predict returns the predicted class index.
	Predict(vec []float64) (int, error)
	// PredictProba returns one probability per class in ascending class
	// index order.
	PredictProba(vec []float64) ([]float64, error)
	// InputSize is the feature vector length the model was trained on.
	InputSize() int
	// NumClasses is the number of classes the model distinguishes.
	NumClasses() int
	Close() error
}

// Classifier validates inputs and outputs around a Model.
type Classifier struct {
	model   Model
	classes int
}

// New wraps model, which must distinguish exactly numClasses classes.
func New(model Model, numClasses int) (*Classifier, error) {
	if model == nil {
		return nil, errors.New("classifier: nil model")
	}
	if model.NumClasses() != numClasses {
		return nil, &DimensionError{What: "model class count", Got: model.NumClasses(), Want: numClasses}
	}
	return &Classifier{model: model, classes: numClasses}, nil
}

// InputSize returns the expected feature vector length.
func (c *Classifier) InputSize() int { return c.model.InputSize() }

// NumClasses returns the class count.
func (c *Classifier) NumClasses() int { return c.classes }

func (c *Classifier) checkInput(vec []float64) error {
	if want := c.model.InputSize(); len(vec) != want {
		return &DimensionError{What: "feature vector length", Got: len(vec), Want: want}
	}
	return nil
}

// Predict returns the class index for vec.
func (c *Classifier) Predict(vec []float64) (int, error) {
	if err := c.checkInput(vec); err != nil {
		return 0, err
	}
	idx, err := c.model.Predict(vec)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	return idx, nil
}

// PredictProbabilities returns per-class probabilities as percentages
// rounded to two decimals, in class index order.
func (c *Classifier) PredictProbabilities(vec []float64) ([]float64, error) {
	if err := c.checkInput(vec); err != nil {
		return nil, err
	}
	proba, err := c.model.PredictProba(vec)
	if err != nil {
		return nil, fmt.Errorf("predict probabilities: %w", err)
	}
	if len(proba) != c.classes {
		return nil, &DimensionError{What: "probability vector length", Got: len(proba), Want: c.classes}
	}
	out := make([]float64, len(proba))
	for i, p := range proba {
		out[i] = Percent(p)
	}
	return out, nil
}

// Close releases the model.
func (c *Classifier) Close() error { return c.model.Close() }

// Percent converts a probability to a percentage rounded to two decimals.
// Halves round to even.
func Percent(p float64) float64 {
	return math.RoundToEven(p*100*100) / 100
}
