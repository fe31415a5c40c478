// Package wavelet implements the multi-level 2D discrete wavelet transform
// used to extract high-frequency detail from face crops.
//
// Only the Haar family ("haar", alias "db1") is provided. Boundaries use
// half-sample symmetric extension, so an axis of length n yields
// ceil(n/2) coefficients per level and reconstruction returns an even
// length. All arithmetic is float32 to keep results stable across runs.
package wavelet

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupportedWavelet is returned for wavelet families other than Haar.
var ErrUnsupportedWavelet = errors.New("unsupported wavelet")

// Wavelet names a two-tap orthogonal filter bank.
type Wavelet struct {
	Name string
	// h is the magnitude shared by all four Haar filter taps.
	h float32
}

var haar = Wavelet{Name: "haar", h: float32(1 / math.Sqrt2)}

// Lookup resolves a wavelet family name.
func Lookup(name string) (Wavelet, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "haar", "db1":
		return haar, nil
	default:
		return Wavelet{}, fmt.Errorf("%w: %q (supported: haar, db1)", ErrUnsupportedWavelet, name)
	}
}

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// At returns the element at (r, c).
func (m *Matrix) At(r, c int) float32 { return m.Data[r*m.Cols+c] }

// Set stores v at (r, c).
func (m *Matrix) Set(r, c int, v float32) { m.Data[r*m.Cols+c] = v }

// SameShape reports whether m and o have equal dimensions.
func (m *Matrix) SameShape(o *Matrix) bool { return m.Rows == o.Rows && m.Cols == o.Cols }

// Trim returns the top-left rows x cols block of m.
func (m *Matrix) Trim(rows, cols int) *Matrix {
	if rows == m.Rows && cols == m.Cols {
		return m
	}
	out := NewMatrix(rows, cols)
	for r := 0; r < rows; r++ {
		copy(out.Data[r*cols:(r+1)*cols], m.Data[r*m.Cols:r*m.Cols+cols])
	}
	return out
}

// Scale multiplies every element by f in place.
func (m *Matrix) Scale(f float32) {
	for i, v := range m.Data {
		m.Data[i] = v * f
	}
}

// Details holds the three detail bands of one decomposition level.
// H is high-pass along rows and low-pass along columns, V the reverse, D
// high-pass along both.
type Details struct {
	H, V, D *Matrix
}

// Decomposition is a multi-level result. Details[0] is the coarsest level,
// matching the approximation band.
type Decomposition struct {
	Approx  *Matrix
	Details []Details
}

// Levels returns the number of detail levels.
func (d *Decomposition) Levels() int { return len(d.Details) }

// dwt splits a signal into approximation and detail coefficients.
func (w Wavelet) dwt(x, lo, hi []float32) {
	n := len(x)
	for k := range lo {
		x0 := x[2*k]
		x1 := x[n-1] // symmetric extension past the last sample
		if 2*k+1 < n {
			x1 = x[2*k+1]
		}
		// Each product is rounded to float32 before the sum.
		lo[k] = float32(w.h*x1) + float32(w.h*x0)
		hi[k] = float32(-w.h*x1) + float32(w.h*x0)
	}
}

// idwt rebuilds a signal of length 2*len(lo). Either band may be nil,
// which stands for all zeros.
func (w Wavelet) idwt(lo, hi, out []float32) {
	for i := range out {
		out[i] = 0
	}
	if lo != nil {
		for i, a := range lo {
			out[2*i] += float32(w.h * a)
			out[2*i+1] += float32(w.h * a)
		}
	}
	if hi != nil {
		for i, d := range hi {
			out[2*i] += float32(w.h * d)
			out[2*i+1] += float32(-w.h * d)
		}
	}
}

func half(n int) int { return (n + 1) / 2 }
