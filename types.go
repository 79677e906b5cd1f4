package shapecheck

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
)

// DynDim is the value used in TensorType.Dims for an axis whose size is not
// (yet) known. It follows the usual convention of -1 denoting a dynamic
// dimension.
const DynDim = -1

// Type is the universe of values the checker reasons about: the fully unknown
// type Dyn, the scalar base types Int and Float, and tensor types.
//
// The set of types is closed; operators, in contrast, are open (see Op).
type Type interface {
	fmt.Stringer

	// isType limits implementations to this package.
	isType()
}

// DynType is the type of Dyn, the fully unknown type.
//
// Dyn is consistent with every type and less precise than every type. It is
// both a whole-value type (an operand about which nothing is known) and, as
// DynDim, the per-axis unknown inside a TensorType.
type DynType struct{}

// Dyn is the fully unknown type.
var Dyn = DynType{}

func (DynType) isType()        {}
func (DynType) String() string { return "Dyn" }

// ScalarType is an atomic base type with no internal structure.
type ScalarType string

// The scalar base types.
const (
	Int   ScalarType = "int"
	Float ScalarType = "float"
)

func (ScalarType) isType()          {}
func (s ScalarType) String() string { return string(s) }

// TensorType is an ordered, fixed-length sequence of axis sizes. Each axis is
// either a non-negative size or DynDim.
type TensorType struct {
	Dims []int
}

// Tensor returns the TensorType with the given axis sizes. Each dim must be
// >= 0 or DynDim.
func Tensor(dims ...int) *TensorType {
	for axis, dim := range dims {
		if dim < 0 && dim != DynDim {
			exceptions.Panicf("Tensor: invalid size %d for axis %d, it must be non-negative or DynDim", dim, axis)
		}
	}
	return &TensorType{Dims: dims}
}

func (t *TensorType) isType() {}

// Rank returns the number of axes.
func (t *TensorType) Rank() int { return len(t.Dims) }

// Clone returns a deep copy of the tensor type.
func (t *TensorType) Clone() *TensorType {
	newT := &TensorType{Dims: make([]int, len(t.Dims))}
	copy(newT.Dims, t.Dims)
	return newT
}

// IsConcrete reports whether every axis has a known size.
func (t *TensorType) IsConcrete() bool {
	for _, dim := range t.Dims {
		if dim == DynDim {
			return false
		}
	}
	return true
}

// Size returns the total element count. It returns ok=false if any axis is
// DynDim, in which case the count is not determinable.
func (t *TensorType) Size() (size int, ok bool) {
	size = 1
	for _, dim := range t.Dims {
		if dim == DynDim {
			return 0, false
		}
		size *= dim
	}
	return size, true
}

// knownSize is the product of the concrete axes only, ignoring DynDim axes.
// Used for the partial divisibility checks in reshape.
func (t *TensorType) knownSize() int {
	size := 1
	for _, dim := range t.Dims {
		if dim != DynDim {
			size *= dim
		}
	}
	return size
}

// String implements fmt.Stringer. Unknown axes print as "Dyn", e.g.
// "(1, 2, 3, Dyn)".
func (t *TensorType) String() string {
	parts := make([]string, len(t.Dims))
	for axis, dim := range t.Dims {
		if dim == DynDim {
			parts[axis] = "Dyn"
		} else {
			parts[axis] = fmt.Sprintf("%d", dim)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// allDyn returns a tensor type of the given rank with every axis unknown.
func allDyn(rank int) *TensorType {
	t := &TensorType{Dims: make([]int, rank)}
	for axis := range t.Dims {
		t.Dims[axis] = DynDim
	}
	return t
}

// Equal reports structural equality of two types: Dyn equals only Dyn, scalar
// types equal themselves, and two tensor types are equal iff they have the
// same rank and every axis matches (DynDim equals only DynDim).
func Equal(a, b Type) bool {
	switch aT := a.(type) {
	case DynType:
		_, ok := b.(DynType)
		return ok
	case ScalarType:
		bT, ok := b.(ScalarType)
		return ok && aT == bT
	case *TensorType:
		bT, ok := b.(*TensorType)
		if !ok || len(aT.Dims) != len(bT.Dims) {
			return false
		}
		for axis, dim := range aT.Dims {
			if bT.Dims[axis] != dim {
				return false
			}
		}
		return true
	}
	return false
}

// typeString formats a type for error messages, printing "<none>" for a nil
// type (an unresolved node).
func typeString(t Type) string {
	if t == nil {
		return "<none>"
	}
	return t.String()
}
