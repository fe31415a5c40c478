package wavelet

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/facecls/internal/mempool"
)

// dwtAxis transforms m along axis 0 (down each column) or axis 1 (along
// each row) and returns the low- and high-pass halves.
func (w Wavelet) dwtAxis(m *Matrix, axis int) (*Matrix, *Matrix) {
	if axis == 0 {
		rows := half(m.Rows)
		lo, hi := NewMatrix(rows, m.Cols), NewMatrix(rows, m.Cols)
		col := mempool.Float32.Get(m.Rows)
		l, h := mempool.Float32.Get(rows), mempool.Float32.Get(rows)
		defer func() {
			mempool.Float32.Put(col)
			mempool.Float32.Put(l)
			mempool.Float32.Put(h)
		}()
		for c := 0; c < m.Cols; c++ {
			for r := range col {
				col[r] = m.At(r, c)
			}
			w.dwt(col, l, h)
			for r := 0; r < rows; r++ {
				lo.Set(r, c, l[r])
				hi.Set(r, c, h[r])
			}
		}
		return lo, hi
	}

	cols := half(m.Cols)
	lo, hi := NewMatrix(m.Rows, cols), NewMatrix(m.Rows, cols)
	for r := 0; r < m.Rows; r++ {
		w.dwt(m.Data[r*m.Cols:(r+1)*m.Cols], lo.Data[r*cols:(r+1)*cols], hi.Data[r*cols:(r+1)*cols])
	}
	return lo, hi
}

// idwtAxis is the inverse of dwtAxis. A nil band is treated as zeros; at
// least one band must be present and both must share a shape.
func (w Wavelet) idwtAxis(lo, hi *Matrix, axis int) *Matrix {
	ref := lo
	if ref == nil {
		ref = hi
	}
	band := func(m *Matrix, i int) []float32 {
		if m == nil {
			return nil
		}
		return m.Data[i*ref.Cols : (i+1)*ref.Cols]
	}

	if axis == 1 {
		cols := 2 * ref.Cols
		out := NewMatrix(ref.Rows, cols)
		for r := 0; r < ref.Rows; r++ {
			w.idwt(band(lo, r), band(hi, r), out.Data[r*cols:(r+1)*cols])
		}
		return out
	}

	rows := 2 * ref.Rows
	out := NewMatrix(rows, ref.Cols)
	var l, h []float32
	if lo != nil {
		l = mempool.Float32.Get(ref.Rows)
		defer mempool.Float32.Put(l)
	}
	if hi != nil {
		h = mempool.Float32.Get(ref.Rows)
		defer mempool.Float32.Put(h)
	}
	col := mempool.Float32.Get(rows)
	defer mempool.Float32.Put(col)
	for c := 0; c < ref.Cols; c++ {
		for r := 0; r < ref.Rows; r++ {
			if l != nil {
				l[r] = lo.At(r, c)
			}
			if h != nil {
				h[r] = hi.At(r, c)
			}
		}
		w.idwt(l, h, col)
		for r := 0; r < rows; r++ {
			out.Set(r, c, col[r])
		}
	}
	return out
}

// dwt2 performs one level of the separable 2D transform: columns first,
// then rows.
func (w Wavelet) dwt2(m *Matrix) (*Matrix, Details) {
	a, d := w.dwtAxis(m, 0)
	aa, ad := w.dwtAxis(a, 1)
	da, dd := w.dwtAxis(d, 1)
	return aa, Details{H: da, V: ad, D: dd}
}

// idwt2 inverts dwt2: rows first, then columns.
func (w Wavelet) idwt2(approx *Matrix, det Details) *Matrix {
	a := w.idwtAxis(approx, det.V, 1)
	d := w.idwtAxis(det.H, det.D, 1)
	return w.idwtAxis(a, d, 0)
}

// Wavedec2 decomposes m into level detail levels plus one approximation.
// Levels past the point where the signal is a single sample are allowed and
// keep producing 1-sample bands.
func Wavedec2(m *Matrix, w Wavelet, level int) (*Decomposition, error) {
	if m == nil || m.Rows == 0 || m.Cols == 0 {
		return nil, errors.New("wavedec2: empty input")
	}
	if level < 1 {
		return nil, fmt.Errorf("wavedec2: level must be at least 1, got %d", level)
	}

	dec := &Decomposition{Details: make([]Details, level)}
	a := m
	for i := level - 1; i >= 0; i-- {
		var det Details
		a, det = w.dwt2(a)
		dec.Details[i] = det
	}
	dec.Approx = a
	return dec, nil
}

// Waverec2 reconstructs a matrix from dec. A nil approximation stands for
// zeros. Before each level the running approximation is trimmed to the
// detail shape, dropping the sample that odd lengths gained on the way down.
func Waverec2(dec *Decomposition, w Wavelet) (*Matrix, error) {
	if dec == nil || len(dec.Details) == 0 {
		return nil, errors.New("waverec2: need at least one detail level")
	}

	a := dec.Approx
	for i, det := range dec.Details {
		if det.H == nil || det.V == nil || det.D == nil {
			return nil, fmt.Errorf("waverec2: level %d has missing detail bands", i)
		}
		if !det.H.SameShape(det.V) || !det.H.SameShape(det.D) {
			return nil, fmt.Errorf("waverec2: level %d detail bands differ in shape", i)
		}
		if a != nil && !a.SameShape(det.H) {
			if a.Rows < det.H.Rows || a.Cols < det.H.Cols {
				return nil, fmt.Errorf("waverec2: level %d approximation %dx%d smaller than details %dx%d",
					i, a.Rows, a.Cols, det.H.Rows, det.H.Cols)
			}
			a = a.Trim(det.H.Rows, det.H.Cols)
		}
		a = w.idwt2(a, det)
	}
	return a, nil
}
