package shapecheck

import (
	"github.com/pkg/errors"
)

// This file implements one inference rule per operator family. Each rule
// validates its operand types against the operator's arity/rank expectations
// and computes the tightest derivable output type, or returns an error naming
// the operator, the offending shapes and the static parameters involved.
//
// Rules are pure: they never touch the graph. The checker dispatches to them
// and owns all node (re-)annotation.

// inferAdd types elementwise addition, shared by Add and AddAssign.
//
// A scalar against a tensor returns the tensor type unchanged. A whole-Dyn
// operand facing a tensor of rank r is materialized as an all-Dyn tensor of
// rank r before broadcasting. Tensor operands go through BroadcastTypes, and
// both resolved operand types are returned so the caller can re-annotate the
// operand nodes; the result is the less precise of the two.
func inferAdd(t1, t2 Type) (out, r1, r2 Type, err error) {
	r1, r2 = t1, t2
	s1, isScalar1 := t1.(ScalarType)
	s2, isScalar2 := t2.(ScalarType)
	_, isDyn1 := t1.(DynType)
	_, isDyn2 := t2.(DynType)

	switch {
	case isScalar1 && isScalar2:
		if s1 == s2 {
			return s1, r1, r2, nil
		}
		// Mixed numeric scalars promote to float.
		return Float, r1, r2, nil
	case isScalar1:
		if isDyn2 {
			return Dyn, r1, r2, nil
		}
		return t2, r1, r2, nil
	case isScalar2:
		if isDyn1 {
			return Dyn, r1, r2, nil
		}
		return t1, r1, r2, nil
	case isDyn1 && isDyn2:
		return Dyn, r1, r2, nil
	}

	// Both operands are tensors, up to materializing a whole-Dyn side at the
	// peer's rank.
	tt1, ok1 := t1.(*TensorType)
	tt2, ok2 := t2.(*TensorType)
	if isDyn1 {
		tt1, ok1 = allDyn(tt2.Rank()), true
	}
	if isDyn2 {
		tt2, ok2 = allDyn(tt1.Rank()), true
	}
	if !ok1 || !ok2 {
		return nil, nil, nil, errors.Errorf("add: operands must be tensors or scalars, got %s and %s",
			typeString(t1), typeString(t2))
	}

	b1, b2, err := BroadcastTypes(tt1, tt2)
	if err != nil {
		return nil, nil, nil, errors.WithMessage(err, "add")
	}
	r1, r2 = b1, b2
	if IsMorePrecise(b1, b2) {
		out = b2
	} else {
		out = b1
	}
	return out, r1, r2, nil
}

// infer types a reshape to op.Shape.
//
// A -1 entry in the target marks the axis inferred from the element count,
// which requires a fully concrete input. With concrete input and target, the
// element counts must match exactly. With unknown input axes and a concrete
// target, the known element counts must divide one another for the reshape to
// be admissible.
func (op Reshape) infer(input Type) (Type, error) {
	placeholderAxis := -1
	knownTarget := 1
	out := &TensorType{Dims: make([]int, len(op.Shape))}
	for axis, dim := range op.Shape {
		switch {
		case dim == -1:
			if placeholderAxis >= 0 {
				return nil, errors.Errorf("reshape: target shape %v has more than one -1 entry", op.Shape)
			}
			placeholderAxis = axis
			out.Dims[axis] = DynDim
		case dim < 0:
			return nil, errors.Errorf("reshape: invalid size %d in target shape %v", dim, op.Shape)
		default:
			knownTarget *= dim
			out.Dims[axis] = dim
		}
	}

	switch t := input.(type) {
	case DynType:
		return out, nil
	case *TensorType:
		if placeholderAxis >= 0 {
			if !t.IsConcrete() {
				return nil, errors.Errorf(
					"reshape: cannot infer the -1 axis of target %v from input %s with unknown axes",
					op.Shape, t)
			}
			total, _ := t.Size()
			if knownTarget <= 0 || total%knownTarget != 0 {
				return nil, errors.Errorf(
					"reshape: input %s with %d elements cannot fill target %v (known axes take %d)",
					t, total, op.Shape, knownTarget)
			}
			out.Dims[placeholderAxis] = total / knownTarget
			return out, nil
		}
		if t.IsConcrete() {
			total, _ := t.Size()
			if total != knownTarget {
				return nil, errors.Errorf(
					"reshape: input %s has %d elements, target %v has %d",
					t, total, op.Shape, knownTarget)
			}
			return out, nil
		}
		known := t.knownSize()
		if known <= 0 || knownTarget <= 0 || (known%knownTarget != 0 && knownTarget%known != 0) {
			return nil, errors.Errorf(
				"reshape: input %s cannot be reshaped to %v, known element counts %d and %d do not divide",
				t, op.Shape, known, knownTarget)
		}
		return out, nil
	}
	return nil, errors.Errorf("reshape: input must be a tensor, got %s", typeString(input))
}

// infer types an axis swap.
func (op Transpose) infer(input Type) (Type, error) {
	switch t := input.(type) {
	case DynType:
		return Dyn, nil
	case *TensorType:
		rank := t.Rank()
		if op.Axis0 < 0 || op.Axis0 >= rank || op.Axis1 < 0 || op.Axis1 >= rank {
			return nil, errors.Errorf("transpose: axes (%d, %d) out of range for input %s of rank %d",
				op.Axis0, op.Axis1, t, rank)
		}
		out := t.Clone()
		out.Dims[op.Axis0], out.Dims[op.Axis1] = out.Dims[op.Axis1], out.Dims[op.Axis0]
		return out, nil
	}
	return nil, errors.Errorf("transpose: input must be a tensor, got %s", typeString(input))
}

// infer types an axis-range merge. The merged axis is the product of the
// merged sizes, or DynDim if any of them is unknown.
func (op Flatten) infer(input Type) (Type, error) {
	switch t := input.(type) {
	case DynType:
		return Dyn, nil
	case *TensorType:
		rank := t.Rank()
		start, err := adjustAxis(op.StartDim, rank)
		if err != nil {
			return nil, errors.WithMessagef(err, "flatten: start_dim for input %s", t)
		}
		end, err := adjustAxis(op.EndDim, rank)
		if err != nil {
			return nil, errors.WithMessagef(err, "flatten: end_dim for input %s", t)
		}
		if start > end {
			return nil, errors.Errorf("flatten: start_dim %d is after end_dim %d for input %s", op.StartDim, op.EndDim, t)
		}
		merged := 1
		for _, dim := range t.Dims[start : end+1] {
			if dim == DynDim {
				merged = DynDim
				break
			}
			merged *= dim
		}
		out := &TensorType{Dims: make([]int, 0, rank-(end-start))}
		out.Dims = append(out.Dims, t.Dims[:start]...)
		out.Dims = append(out.Dims, merged)
		out.Dims = append(out.Dims, t.Dims[end+1:]...)
		return out, nil
	}
	return nil, errors.Errorf("flatten: input must be a tensor, got %s", typeString(input))
}

// infer types a 2D convolution. The input must be rank-4 or whole-Dyn
// (checked as an unknown rank-4), with a channel axis consistent with
// InChannels. Spatial axes go through the convolution output-size formula;
// the batch axis passes through.
func (op Conv2D) infer(input Type) (Type, error) {
	stride := pairOrDefault(op.Stride, Square(1))
	dilation := pairOrDefault(op.Dilation, Square(1))
	groups := intOrDefault(op.Groups, 1)
	if err := validateWindow("conv2d", op.KernelSize, stride, op.Padding, dilation); err != nil {
		return nil, err
	}
	if op.OutChannels < 1 {
		return nil, errors.Errorf("conv2d: out_channels=%d must be >= 1", op.OutChannels)
	}
	if op.InChannels != DynDim && op.InChannels < 1 {
		return nil, errors.Errorf("conv2d: in_channels=%d must be >= 1 or DynDim", op.InChannels)
	}
	if groups < 1 {
		return nil, errors.Errorf("conv2d: groups=%d must be >= 1", groups)
	}
	if op.InChannels != DynDim && op.InChannels%groups != 0 {
		return nil, errors.Errorf("conv2d: in_channels=%d must be divisible by groups=%d", op.InChannels, groups)
	}
	if op.OutChannels%groups != 0 {
		return nil, errors.Errorf("conv2d: out_channels=%d must be divisible by groups=%d", op.OutChannels, groups)
	}

	var t *TensorType
	switch arg := input.(type) {
	case DynType:
		t = allDyn(4)
	case *TensorType:
		t = arg
	default:
		return nil, errors.Errorf("conv2d: input must be a tensor, got %s", typeString(input))
	}
	expected := Tensor(DynDim, op.InChannels, DynDim, DynDim)
	if !IsConsistent(t, expected) {
		return nil, errors.Errorf("conv2d: input %s is not consistent with expected %s (in_channels=%d)",
			t, expected, op.InChannels)
	}

	out := &TensorType{Dims: []int{t.Dims[0], op.OutChannels, 0, 0}}
	for spatial := 0; spatial < 2; spatial++ {
		axis := 2 + spatial
		size, ok := convOutputDim(t.Dims[axis], op.KernelSize[spatial], stride[spatial], op.Padding[spatial], dilation[spatial])
		if !ok {
			return nil, errors.Errorf(
				"conv2d: effective kernel %d does not fit input %s axis %d (kernel=%v, stride=%v, padding=%v, dilation=%v)",
				(op.KernelSize[spatial]-1)*dilation[spatial]+1, t, axis, op.KernelSize, stride, op.Padding, dilation)
		}
		out.Dims[axis] = size
	}
	return out, nil
}

// infer types batch normalization. The argument, the node's annotation (nil
// when absent) and the expected (Dyn, NumFeatures, Dyn, Dyn) must be pairwise
// consistent; the result is their most-precise merge.
func (op BatchNorm2D) infer(input, annotation Type) (Type, error) {
	if op.NumFeatures < 1 {
		return nil, errors.Errorf("batch_norm2d: num_features=%d must be >= 1", op.NumFeatures)
	}
	if _, ok := input.(ScalarType); ok {
		return nil, errors.Errorf("batch_norm2d: input must be a tensor, got %s", typeString(input))
	}
	expected := Tensor(DynDim, op.NumFeatures, DynDim, DynDim)
	if !IsConsistent(input, expected) {
		return nil, errors.Errorf("batch_norm2d: input %s is not consistent with expected %s (num_features=%d)",
			typeString(input), expected, op.NumFeatures)
	}
	if annotation != nil {
		if !IsConsistent(annotation, expected) {
			return nil, errors.Errorf("batch_norm2d: annotation %s is not consistent with expected %s (num_features=%d)",
				annotation, expected, op.NumFeatures)
		}
		if !IsConsistent(input, annotation) {
			return nil, errors.Errorf("batch_norm2d: input %s is not consistent with annotation %s",
				typeString(input), annotation)
		}
	}
	out := mostPrecise(input, expected)
	if annotation != nil {
		out = mostPrecise(out, annotation)
	}
	return out, nil
}

// infer types max pooling over the last two axes of a rank-3 or rank-4
// input. The stride defaults to the kernel size.
func (op MaxPool2D) infer(input Type) (Type, error) {
	stride := pairOrDefault(op.Stride, op.KernelSize)
	dilation := pairOrDefault(op.Dilation, Square(1))
	if err := validateWindow("max_pool2d", op.KernelSize, stride, op.Padding, dilation); err != nil {
		return nil, err
	}
	switch t := input.(type) {
	case DynType:
		return Dyn, nil
	case *TensorType:
		rank := t.Rank()
		if rank != 3 && rank != 4 {
			return nil, errors.Errorf("max_pool2d: input %s must have rank 3 or 4, got rank %d", t, rank)
		}
		out := t.Clone()
		for spatial := 0; spatial < 2; spatial++ {
			axis := rank - 2 + spatial
			size, ok := convOutputDim(t.Dims[axis], op.KernelSize[spatial], stride[spatial], op.Padding[spatial], dilation[spatial])
			if !ok {
				return nil, errors.Errorf(
					"max_pool2d: effective kernel %d does not fit input %s axis %d (kernel=%v, stride=%v, padding=%v, dilation=%v)",
					(op.KernelSize[spatial]-1)*dilation[spatial]+1, t, axis, op.KernelSize, stride, op.Padding, dilation)
			}
			out.Dims[axis] = size
		}
		return out, nil
	}
	return nil, errors.Errorf("max_pool2d: input must be a tensor, got %s", typeString(input))
}

// infer types adaptive average pooling: the last two axes become OutputSize
// whatever the input's spatial sizes are.
func (op AdaptiveAvgPool2D) infer(input Type) (Type, error) {
	if op.OutputSize[0] < 1 || op.OutputSize[1] < 1 {
		return nil, errors.Errorf("adaptive_avg_pool2d: output size %v must be positive", op.OutputSize)
	}
	switch t := input.(type) {
	case DynType:
		return Dyn, nil
	case *TensorType:
		rank := t.Rank()
		if rank != 3 && rank != 4 {
			return nil, errors.Errorf("adaptive_avg_pool2d: input %s must have rank 3 or 4, got rank %d", t, rank)
		}
		out := t.Clone()
		out.Dims[rank-2] = op.OutputSize[0]
		out.Dims[rank-1] = op.OutputSize[1]
		return out, nil
	}
	return nil, errors.Errorf("adaptive_avg_pool2d: input must be a tensor, got %s", typeString(input))
}

// infer types a fully connected layer applied to the last axis.
func (op Linear) infer(input Type) (Type, error) {
	if op.InFeatures < 1 || op.OutFeatures < 1 {
		return nil, errors.Errorf("linear: in_features=%d and out_features=%d must be >= 1", op.InFeatures, op.OutFeatures)
	}
	switch t := input.(type) {
	case DynType:
		return Dyn, nil
	case *TensorType:
		rank := t.Rank()
		if rank < 1 {
			return nil, errors.Errorf("linear: input %s must have rank >= 1", t)
		}
		if !consistentDims(t.Dims[rank-1], op.InFeatures) {
			return nil, errors.Errorf("linear: last axis of input %s is not consistent with in_features=%d",
				t, op.InFeatures)
		}
		out := t.Clone()
		out.Dims[rank-1] = op.OutFeatures
		return out, nil
	}
	return nil, errors.Errorf("linear: input must be a tensor, got %s", typeString(input))
}

// adjustAxis returns a positive axis, adjusting negative indices from the
// end.
func adjustAxis(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return -1, errors.Errorf("axis %d is out of range for rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}

// convOutputDim returns the output size of a convolution-style window over a
// single axis:
//
//	(in + 2*padding - dilation*(kernel-1) - 1)/stride + 1
//
// An unknown input size stays unknown. It reports ok=false when the effective
// window does not fit the padded input.
func convOutputDim(in, kernel, stride, padding, dilation int) (size int, ok bool) {
	if in == DynDim {
		return DynDim, true
	}
	numerator := in + 2*padding - dilation*(kernel-1) - 1
	if numerator < 0 {
		return 0, false
	}
	return numerator/stride + 1, true
}

// validateWindow checks kernel/stride/padding/dilation pairs shared by the
// convolution and pooling rules.
func validateWindow(opName string, kernel, stride, padding, dilation [2]int) error {
	for spatial := 0; spatial < 2; spatial++ {
		if kernel[spatial] < 1 {
			return errors.Errorf("%s: kernel size %v must be >= 1", opName, kernel)
		}
		if stride[spatial] < 1 {
			return errors.Errorf("%s: stride %v must be >= 1", opName, stride)
		}
		if padding[spatial] < 0 {
			return errors.Errorf("%s: padding %v must be non-negative", opName, padding)
		}
		if dilation[spatial] < 1 {
			return errors.Errorf("%s: dilation %v must be >= 1", opName, dilation)
		}
	}
	return nil
}
