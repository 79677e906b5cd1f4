package shapecheck

import (
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Shape converts a fully concrete tensor type to a gomlx shapes.Shape with
// the given dtype. It fails if any axis is still DynDim, since gomlx shapes
// are concrete.
func (t *TensorType) Shape(dtype dtypes.DType) (shape shapes.Shape, err error) {
	if !t.IsConcrete() {
		err = errors.Errorf("cannot convert %s to a concrete shape, it has unknown axes", t)
		return
	}
	shape = shapes.Make(dtype, t.Dims...)
	return
}

// DynamicDims returns the dimensions in the -1-for-unknown convention that
// dynamic shapes use across the gomlx ecosystem. The returned slice is a
// copy, safe for the caller to modify.
func (t *TensorType) DynamicDims() []int {
	return slices.Clone(t.Dims)
}

// FromShape returns the type of a concrete gomlx shape: a scalar type for
// rank-0 shapes, a fully concrete tensor type otherwise.
func FromShape(shape shapes.Shape) Type {
	if shape.IsScalar() {
		if shape.DType.IsFloat() {
			return Float
		}
		return Int
	}
	return Tensor(slices.Clone(shape.Dimensions)...)
}

// ValidateInputs checks concrete input shapes against the graph's placeholder
// annotations, keyed by placeholder name. Placeholders not named in inputs
// are left unconstrained; a name that does not refer to a placeholder is an
// error.
//
// This is the bridge to executing a checked graph: shapes accepted here fit
// every annotation the checker reasoned from.
func (g *Graph) ValidateInputs(inputs map[string]shapes.Shape) error {
	byName := make(map[string]*Node, len(g.nodes))
	for _, n := range g.nodes {
		if _, ok := n.op.(Placeholder); ok {
			byName[n.name] = n
		}
	}
	for _, name := range slices.Sorted(maps.Keys(inputs)) {
		n, ok := byName[name]
		if !ok {
			return errors.Errorf("input %q does not name a placeholder in the graph", name)
		}
		if n.annotation == nil {
			continue
		}
		given := FromShape(inputs[name])
		if !IsConsistent(given, n.annotation) {
			return errors.Errorf("input %q with shape %s is not consistent with placeholder %s annotated %s",
				name, given, n, n.annotation)
		}
	}
	return nil
}
