package classifier

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// FuncModel is a Model backed by a Go scoring function. It serves tests and
// tooling that need a deterministic classifier without a model file.
type FuncModel struct {
	Inputs  int
	Classes int
	// Scores returns one non-negative score per class; they are normalized
	// to probabilities.
	Scores func(vec []float64) []float64

	closed atomic.Bool
}

var errModelClosed = errors.New("model is closed")

// ConstantModel always predicts class with probability 1.
func ConstantModel(inputs, classes, class int) *FuncModel {
	return &FuncModel{Inputs: inputs, Classes: classes, Scores: func([]float64) []float64 {
		s := make([]float64, classes)
		s[class] = 1
		return s
	}}
}

func (m *FuncModel) proba(vec []float64) ([]float64, error) {
	if m.closed.Load() {
		return nil, errModelClosed
	}
	if len(vec) != m.Inputs {
		return nil, &DimensionError{What: "feature vector length", Got: len(vec), Want: m.Inputs}
	}
	scores := m.Scores(vec)
	var sum float64
	for i, s := range scores {
		if s < 0 {
			return nil, fmt.Errorf("negative score %v for class %d", s, i)
		}
		sum += s
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		if sum > 0 {
			out[i] = s / sum
		} else {
			out[i] = 1 / float64(len(scores))
		}
	}
	return out, nil
}

// Predict implements Model.
func (m *FuncModel) Predict(vec []float64) (int, error) {
	p, err := m.proba(vec)
	if err != nil {
		return 0, err
	}
	best := 0
	for i, v := range p {
		if v > p[best] {
			best = i
		}
	}
	return best, nil
}

// PredictProba implements Model.
func (m *FuncModel) PredictProba(vec []float64) ([]float64, error) { return m.proba(vec) }

// InputSize implements Model.
func (m *FuncModel) InputSize() int { return m.Inputs }

// NumClasses implements Model.
func (m *FuncModel) NumClasses() int { return m.Classes }

// Close implements Model.
func (m *FuncModel) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *FuncModel) Closed() bool { return m.closed.Load() }
