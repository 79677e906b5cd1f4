package shapecheck

import (
	"github.com/pkg/errors"
)

// BroadcastTypes resolves the pairwise broadcast of two tensor types and
// returns both operands extended to the shapes they take at execution time.
//
// When the ranks match, an axis of size 1 takes the peer's size on that axis.
// When the ranks differ, the shorter type is padded on the left with 1-sized
// axes and no substitution is applied. In both cases every aligned axis pair
// must then be consistent: unknown against anything, or equal concrete sizes.
//
// Both returned types are fresh copies; the inputs are never mutated. Callers
// re-annotate the operand nodes with the returned pair, since broadcasting
// determines the shapes actually used downstream.
func BroadcastTypes(t1, t2 *TensorType) (r1, r2 *TensorType, err error) {
	r1, r2 = t1.Clone(), t2.Clone()
	if r1.Rank() == r2.Rank() {
		for axis := range r1.Dims {
			if r1.Dims[axis] == 1 {
				r1.Dims[axis] = r2.Dims[axis]
			} else if r2.Dims[axis] == 1 {
				r2.Dims[axis] = r1.Dims[axis]
			}
		}
	} else if r1.Rank() < r2.Rank() {
		r1 = padLeft(r1, r2.Rank())
	} else {
		r2 = padLeft(r2, r1.Rank())
	}
	for axis := range r1.Dims {
		if !consistentDims(r1.Dims[axis], r2.Dims[axis]) {
			return nil, nil, errors.Errorf(
				"cannot broadcast %s with %s: axis %d has incompatible sizes after alignment (%d and %d)",
				t1, t2, axis, r1.Dims[axis], r2.Dims[axis])
		}
	}
	return r1, r2, nil
}

// padLeft returns t extended on the left with 1-sized axes up to the given
// rank.
func padLeft(t *TensorType, rank int) *TensorType {
	padded := &TensorType{Dims: make([]int, rank)}
	pad := rank - t.Rank()
	for axis := range padded.Dims {
		if axis < pad {
			padded.Dims[axis] = 1
		} else {
			padded.Dims[axis] = t.Dims[axis-pad]
		}
	}
	return padded
}
