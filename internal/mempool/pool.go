// Package mempool recycles numeric buffers on hot paths.
package mempool

import "sync"

// step is the bucket granularity in elements.
const step = 1024

// sizeClass rounds n up to the next multiple of step, with step as the
// smallest class.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

// Pool hands out []T buffers bucketed by capacity. The zero value is ready
// to use and safe for concurrent use.
type Pool[T any] struct {
	buckets sync.Map // size class -> *sync.Pool
}

func (p *Pool[T]) bucket(cls int) *sync.Pool {
	if b, ok := p.buckets.Load(cls); ok {
		return b.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
	}
	b, _ := p.buckets.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	return b.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

// Get returns a buffer of length n. Its contents are undefined; callers
// overwrite every element or use GetZeroed.
func (p *Pool[T]) Get(n int) []T {
	cls := sizeClass(n)
	buf, ok := p.bucket(cls).Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

// GetZeroed is Get with every element set to the zero value.
func (p *Pool[T]) GetZeroed(n int) []T {
	buf := p.Get(n)
	clear(buf)
	return buf
}

// Put returns buf to the pool. Nil and foreign slices smaller than the
// minimum class are dropped.
func (p *Pool[T]) Put(buf []T) {
	if cap(buf) < step {
		return
	}
	// Bucket by the largest class buf can fully serve.
	cls := cap(buf) / step * step
	p.bucket(cls).Put(buf[:cap(buf)]) //nolint:staticcheck // SA6002: slices are small headers
}

// Float32 is shared by the wavelet transform and ONNX input rows.
var Float32 Pool[float32]
