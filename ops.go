package shapecheck

// Op identifies a node's operator and carries its static parameters, the
// arguments that are part of the traced program rather than tensor values
// (target shapes, axis indices, kernel geometry).
//
// The checker ships rules for the closed set of operators below. The
// interface itself is open: a node whose Op has no rule degrades to Dyn
// unless Checker.StrictUnknownOps is set.
type Op interface {
	// OpName returns the operator name used in diagnostics and graph dumps.
	OpName() string
}

// Placeholder marks a graph input. Its type comes from the node's annotation,
// or Dyn when the input is unannotated.
type Placeholder struct{}

func (Placeholder) OpName() string { return "placeholder" }

// Const is a literal operand lifted into the graph, e.g. the scalar in
// `x + 2`. It carries the literal's scalar type.
type Const struct {
	Type Type
}

func (Const) OpName() string { return "const" }

// Add is elementwise addition with broadcasting.
type Add struct{}

func (Add) OpName() string { return "add" }

// AddAssign is in-place elementwise addition (`out += identity`). It types
// exactly like Add.
type AddAssign struct{}

func (AddAssign) OpName() string { return "add_assign" }

// Reshape reinterprets its input with the given target shape. At most one
// entry of Shape may be -1, meaning that axis is inferred from the element
// count.
type Reshape struct {
	Shape []int
}

func (Reshape) OpName() string { return "reshape" }

// Transpose swaps two axes.
type Transpose struct {
	Axis0, Axis1 int
}

func (Transpose) OpName() string { return "transpose" }

// Flatten merges the axes in [StartDim, EndDim] (inclusive) into a single
// axis. Negative indices count from the last axis.
type Flatten struct {
	StartDim, EndDim int
}

func (Flatten) OpName() string { return "flatten" }

// Conv2D is a 2D convolution over a rank-4 (batch, channels, height, width)
// input.
//
// InChannels may be DynDim when the module's input channel count is unknown.
// Zero-valued Stride, Dilation and Groups default to 1.
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  [2]int
	Stride      [2]int
	Padding     [2]int
	Dilation    [2]int
	Groups      int
}

func (Conv2D) OpName() string { return "conv2d" }

// BatchNorm2D normalizes a rank-4 input over its channel axis. It is
// shape-preserving, but pins the channel axis to NumFeatures.
type BatchNorm2D struct {
	NumFeatures int
}

func (BatchNorm2D) OpName() string { return "batch_norm2d" }

// MaxPool2D pools over the last two axes of a rank-3 or rank-4 input.
// A zero-valued Stride defaults to KernelSize; a zero-valued Dilation
// defaults to 1.
type MaxPool2D struct {
	KernelSize [2]int
	Stride     [2]int
	Padding    [2]int
	Dilation   [2]int
}

func (MaxPool2D) OpName() string { return "max_pool2d" }

// AdaptiveAvgPool2D sets the last two axes of a rank-3 or rank-4 input to
// OutputSize, whatever the input's spatial sizes are.
type AdaptiveAvgPool2D struct {
	OutputSize [2]int
}

func (AdaptiveAvgPool2D) OpName() string { return "adaptive_avg_pool2d" }

// Linear is a fully connected layer applied to the last axis.
type Linear struct {
	InFeatures, OutFeatures int
}

func (Linear) OpName() string { return "linear" }

// ReLU is the rectified linear activation. Like every elementwise unary
// operator it is shape-preserving.
type ReLU struct{}

func (ReLU) OpName() string { return "relu" }

// Output marks the graph result. It copies its argument's type.
type Output struct{}

func (Output) OpName() string { return "output" }

// Square returns the [2]int pair (n, n), for the common case of square
// kernels, strides and paddings.
func Square(n int) [2]int { return [2]int{n, n} }

// pairOrDefault replaces a zero-valued pair with the given default. Operator
// structs leave strides and dilations at their zero value to mean "default".
func pairOrDefault(pair [2]int, def [2]int) [2]int {
	if pair == [2]int{} {
		return def
	}
	return pair
}

// intOrDefault replaces a zero value with the given default.
func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
