package onnx

import (
	"errors"
	"fmt"

	"github.com/yalue/onnxruntime_go"
)

// RowShape returns the [1, n] shape of a single feature row.
func RowShape(n int) onnxruntime_go.Shape {
	return onnxruntime_go.NewShape(1, int64(n))
}

// NewRowTensor wraps one feature row as a [1, len(data)] float32 tensor.
func NewRowTensor(data []float32) (*onnxruntime_go.Tensor[float32], error) {
	if len(data) == 0 {
		return nil, errors.New("empty input row")
	}
	t, err := onnxruntime_go.NewTensor(RowShape(len(data)), data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	return t, nil
}

// Float32Data returns the contents of a float32 tensor value.
func Float32Data(v onnxruntime_go.Value) ([]float32, error) {
	t, ok := v.(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor, got %T", v)
	}
	return t.GetData(), nil
}

// Int64Data returns the contents of an int64 tensor value.
func Int64Data(v onnxruntime_go.Value) ([]int64, error) {
	t, ok := v.(*onnxruntime_go.Tensor[int64])
	if !ok {
		return nil, fmt.Errorf("expected int64 tensor, got %T", v)
	}
	return t.GetData(), nil
}

// DestroyAll releases every non-nil value.
func DestroyAll(values []onnxruntime_go.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

// ArgMax returns the index of the largest element, the first one on ties,
// or -1 for an empty slice.
func ArgMax(data []float32) int {
	best := -1
	for i, v := range data {
		if best < 0 || v > data[best] {
			best = i
		}
	}
	return best
}

// TensorStats computes min, max and mean for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
