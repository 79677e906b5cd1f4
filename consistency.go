package shapecheck

// IsConsistent reports whether two types are consistent with each other, the
// admissibility relation used by the operator rules.
//
// Dyn is consistent with every type. Two tensor types are consistent iff they
// have the same rank and every axis pair is consistent: an unknown axis is
// consistent with any size, and two concrete sizes must be equal. A tensor
// type is never consistent with a scalar type.
//
// The relation is symmetric but not transitive: (1, Dyn) is consistent with
// both (1, 2) and (1, 3), which are not consistent with each other.
func IsConsistent(a, b Type) bool {
	if _, ok := a.(DynType); ok {
		return true
	}
	if _, ok := b.(DynType); ok {
		return true
	}
	switch aT := a.(type) {
	case ScalarType:
		bT, ok := b.(ScalarType)
		return ok && aT == bT
	case *TensorType:
		bT, ok := b.(*TensorType)
		if !ok || aT.Rank() != bT.Rank() {
			return false
		}
		for axis, dim := range aT.Dims {
			if !consistentDims(dim, bT.Dims[axis]) {
				return false
			}
		}
		return true
	}
	return false
}

// consistentDims reports whether two axis sizes are consistent: either is
// unknown, or they are equal.
func consistentDims(a, b int) bool {
	return a == DynDim || b == DynDim || a == b
}

// IsMorePrecise reports whether `a` carries at least as much shape
// information as `b`: a ⊑ b in the precision partial order, with Dyn at the
// top.
//
// Every type is more precise than Dyn. A tensor type is more precise than
// another of the same rank iff every axis is either equal or unknown on the
// `b` side. Different ranks, and scalar/tensor mixes, are incomparable. The
// relation is a partial order.
func IsMorePrecise(a, b Type) bool {
	if _, ok := b.(DynType); ok {
		return true
	}
	if _, ok := a.(DynType); ok {
		return false
	}
	switch aT := a.(type) {
	case ScalarType:
		bT, ok := b.(ScalarType)
		return ok && aT == bT
	case *TensorType:
		bT, ok := b.(*TensorType)
		if !ok || aT.Rank() != bT.Rank() {
			return false
		}
		for axis, dim := range aT.Dims {
			if bT.Dims[axis] != DynDim && bT.Dims[axis] != dim {
				return false
			}
		}
		return true
	}
	return false
}

// mostPrecise merges two consistent types, keeping the concrete axis wherever
// either side has one. It is the greatest lower bound in the precision order
// and is only defined for consistent inputs (concrete axes never disagree).
func mostPrecise(a, b Type) Type {
	if _, ok := a.(DynType); ok {
		return b
	}
	if _, ok := b.(DynType); ok {
		return a
	}
	aT, aOk := a.(*TensorType)
	bT, bOk := b.(*TensorType)
	if !aOk || !bOk {
		return a
	}
	merged := aT.Clone()
	for axis, dim := range merged.Dims {
		if dim == DynDim {
			merged.Dims[axis] = bT.Dims[axis]
		}
	}
	return merged
}
