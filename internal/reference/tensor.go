// Package reference is a small float32 executor for checked graphs.
//
// It computes real values with naive loops, with no backend or acceleration.
// Its purpose is cross-checking: executing a graph on concrete inputs must
// produce tensors whose shapes agree with the types the checker inferred.
package reference

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Tensor is a dense row-major float32 tensor. A rank-0 tensor is a scalar
// with a single element.
type Tensor struct {
	Dims []int
	Data []float32
}

// New returns a zero-filled tensor with the given axis sizes.
func New(dims ...int) *Tensor {
	return &Tensor{Dims: dims, Data: make([]float32, elemCount(dims))}
}

// Scalar returns a rank-0 tensor holding value.
func Scalar(value float32) *Tensor {
	return &Tensor{Dims: []int{}, Data: []float32{value}}
}

// Iota returns a tensor filled with 0, 1, 2, ... in row-major order, scaled
// down to keep values small.
func Iota(dims ...int) *Tensor {
	t := New(dims...)
	for i := range t.Data {
		t.Data[i] = float32(i) * 0.01
	}
	return t
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.Dims) }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{Dims: make([]int, len(t.Dims)), Data: make([]float32, len(t.Data))}
	copy(c.Dims, t.Dims)
	copy(c.Data, t.Data)
	return c
}

// WithDims returns a view of t's data under different axis sizes. The element
// counts must match.
func (t *Tensor) WithDims(dims ...int) (*Tensor, error) {
	if elemCount(dims) != len(t.Data) {
		return nil, errors.Errorf("cannot view %d elements as %v", len(t.Data), dims)
	}
	return &Tensor{Dims: dims, Data: t.Data}, nil
}

func elemCount(dims []int) int {
	count := 1
	for _, dim := range dims {
		count *= dim
	}
	return count
}

// strides returns the row-major stride of each axis.
func strides(dims []int) []int {
	s := make([]int, len(dims))
	acc := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		s[axis] = acc
		acc *= dims[axis]
	}
	return s
}

// fillParam fills a parameter tensor with small deterministic values, so runs
// are reproducible without carrying a seed around.
func fillParam(t *Tensor) *Tensor {
	for i := range t.Data {
		t.Data[i] = math32.Sin(float32(i)) * 0.1
	}
	return t
}
