package shapecheck

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCheck(t *testing.T, g *Graph) {
	t.Helper()
	require.NoError(t, Check(g))
}

// TestCheckLeaves tests placeholder and constant typing.
func TestCheckLeaves(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", Tensor(2, 3))
	y := g.Placeholder("y", nil)
	two := g.Const(Int)
	half := g.Const(Float)
	mustCheck(t, g)

	assert.Equal(t, Tensor(2, 3), x.Type())
	assert.Equal(t, Dyn, y.Type())
	assert.Equal(t, Int, two.Type())
	assert.Equal(t, Float, half.Type())
}

// TestCheckAdd tests elementwise addition: scalar handling, broadcast,
// operand refinement and the precision of the result.
func TestCheckAdd(t *testing.T) {
	t.Run("Concrete", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", Tensor(1, 2, 3))
		y := g.Placeholder("y", Tensor(1, 2, 3))
		sum := g.Add(x, y)
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, 2, 3), sum.Type())
	})

	t.Run("PartialOperand", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", Tensor(1, 2, DynDim))
		y := g.Placeholder("y", Tensor(1, 2, 3))
		sum := g.Add(x, y)
		mustCheck(t, g)
		// The result keeps the unknown axis: the checker never guesses.
		assert.Equal(t, Tensor(1, 2, DynDim), sum.Type())
	})

	t.Run("Broadcast", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", Tensor(1, 2, 3, DynDim))
		y := g.Placeholder("y", Tensor(2, 3, 4))
		sum := g.Add(x, y)
		mustCheck(t, g)

		assert.Equal(t, Tensor(1, 2, 3, DynDim), sum.Type())
		// Both operands resolve to their broadcast shapes.
		assert.Equal(t, Tensor(1, 2, 3, DynDim), x.Type())
		assert.Equal(t, Tensor(1, 2, 3, 4), y.Type())
	})

	t.Run("ScalarOperand", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", Int)
		y := g.Placeholder("y", Tensor(2, 3, 4))
		sum := g.Add(x, y)
		mustCheck(t, g)

		assert.Equal(t, Tensor(2, 3, 4), sum.Type())
		// The scalar operand is left alone.
		assert.Equal(t, Int, x.Type())
	})

	t.Run("ScalarConst", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", Tensor(2, 3))
		sum := g.Add(x, g.Const(Int))
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 3), sum.Type())
	})

	t.Run("UnannotatedOperand", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", nil)
		y := g.Placeholder("y", Tensor(2, 3, 4))
		sum := g.Add(x, y)
		mustCheck(t, g)

		// The unknown operand materializes at the peer's rank.
		assert.Equal(t, Tensor(DynDim, DynDim, DynDim), x.Type())
		assert.Equal(t, Tensor(DynDim, DynDim, DynDim), sum.Type())
	})

	t.Run("BothUnannotated", func(t *testing.T) {
		g := NewGraph()
		sum := g.Add(g.Placeholder("x", nil), g.Placeholder("y", nil))
		mustCheck(t, g)
		assert.Equal(t, Dyn, sum.Type())
	})

	t.Run("Mismatch", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", Tensor(1, 2, 3))
		y := g.Placeholder("y", Tensor(1, 2, 3, 5))
		sum := g.Add(x, y)
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "cannot broadcast")

		shapeErr := AsShapeError(err)
		require.NotNil(t, shapeErr)
		assert.Same(t, sum, shapeErr.Node)
	})
}

// TestCheckReshape tests reshape admissibility over unknown, partial and
// concrete inputs, including the inferred -1 axis.
func TestCheckReshape(t *testing.T) {
	t.Run("FromUnknown", func(t *testing.T) {
		g := NewGraph()
		r := g.Reshape(g.Placeholder("x", nil), 1, 2, 3)
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, 2, 3), r.Type())
	})

	t.Run("Concrete", func(t *testing.T) {
		g := NewGraph()
		r := g.Reshape(g.Placeholder("x", Tensor(1, 6)), 1, 2, 3)
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, 2, 3), r.Type())
	})

	t.Run("ConcreteMismatch", func(t *testing.T) {
		g := NewGraph()
		g.Reshape(g.Placeholder("x", Tensor(1, 6)), 1, 2, 4)
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "elements")
	})

	t.Run("InferredAxis", func(t *testing.T) {
		g := NewGraph()
		r := g.Reshape(g.Placeholder("x", Tensor(1, 15)), 1, 5, -1)
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, 5, 3), r.Type())
	})

	t.Run("InferredAxisIndivisible", func(t *testing.T) {
		g := NewGraph()
		g.Reshape(g.Placeholder("x", Tensor(1, 15)), 1, 4, -1)
		err := Check(g)
		require.Error(t, err)
	})

	t.Run("InferredAxisNeedsConcreteInput", func(t *testing.T) {
		g := NewGraph()
		g.Reshape(g.Placeholder("x", Tensor(2, 3, DynDim)), 2, -1)
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "cannot infer")
	})

	t.Run("PartialDivisible", func(t *testing.T) {
		g := NewGraph()
		r := g.Reshape(g.Placeholder("x", Tensor(DynDim, 6)), 3, 2)
		mustCheck(t, g)
		assert.Equal(t, Tensor(3, 2), r.Type())
	})

	t.Run("PartialDividesTarget", func(t *testing.T) {
		g := NewGraph()
		r := g.Reshape(g.Placeholder("x", Tensor(2, DynDim)), 4)
		mustCheck(t, g)
		assert.Equal(t, Tensor(4), r.Type())
	})

	t.Run("PartialIndivisible", func(t *testing.T) {
		g := NewGraph()
		g.Reshape(g.Placeholder("x", Tensor(DynDim, 5)), 3, 2)
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "do not divide")
	})

	t.Run("OfScalar", func(t *testing.T) {
		g := NewGraph()
		g.Reshape(g.Const(Int), 1)
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "must be a tensor")
	})
}

// TestCheckTranspose tests axis swaps and their bounds.
func TestCheckTranspose(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", Tensor(1, 2, 3, DynDim))
	swapped := g.Transpose(x, 0, 2)
	mustCheck(t, g)
	assert.Equal(t, Tensor(3, 2, 1, DynDim), swapped.Type())

	t.Run("Unknown", func(t *testing.T) {
		g := NewGraph()
		swapped := g.Transpose(g.Placeholder("x", nil), 0, 1)
		mustCheck(t, g)
		assert.Equal(t, Dyn, swapped.Type())
	})

	t.Run("AxisOutOfRange", func(t *testing.T) {
		g := NewGraph()
		g.Transpose(g.Placeholder("x", Tensor(2, 3)), 0, 2)
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "out of range")
	})
}

// TestCheckFlatten tests axis-range merges, including unknown merged axes
// and negative indices.
func TestCheckFlatten(t *testing.T) {
	t.Run("ConcreteRange", func(t *testing.T) {
		g := NewGraph()
		f := g.Flatten(g.Placeholder("x", Tensor(1, 2, 3, 5, DynDim)), 1, 2)
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, 6, 5, DynDim), f.Type())
	})

	t.Run("MergedUnknown", func(t *testing.T) {
		g := NewGraph()
		f := g.Flatten(g.Placeholder("x", Tensor(1, 2, 3, 5, DynDim)), 1, -1)
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, DynDim), f.Type())
	})

	t.Run("FullFlatten", func(t *testing.T) {
		g := NewGraph()
		f := g.Flatten(g.Placeholder("x", Tensor(4, 16, 5, 5)), 1, -1)
		mustCheck(t, g)
		assert.Equal(t, Tensor(4, 400), f.Type())
	})

	t.Run("SingleAxisRange", func(t *testing.T) {
		g := NewGraph()
		f := g.Flatten(g.Placeholder("x", Tensor(2, 3, 4)), 0, 0)
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 3, 4), f.Type())
	})

	t.Run("Unknown", func(t *testing.T) {
		g := NewGraph()
		f := g.Flatten(g.Placeholder("x", nil), 1, -1)
		mustCheck(t, g)
		assert.Equal(t, Dyn, f.Type())
	})

	t.Run("ReversedRange", func(t *testing.T) {
		g := NewGraph()
		g.Flatten(g.Placeholder("x", Tensor(2, 3, 4)), 2, 1)
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "start_dim")
	})

	t.Run("AxisOutOfRange", func(t *testing.T) {
		g := NewGraph()
		g.Flatten(g.Placeholder("x", Tensor(2, 3)), 0, 3)
		err := Check(g)
		require.Error(t, err)
	})
}

// TestCheckConv2D tests convolution typing: the output-size formula, channel
// consistency and the annotation overwrite.
func TestCheckConv2D(t *testing.T) {
	conv := func(in, out, kernel int) Conv2D {
		return Conv2D{InChannels: in, OutChannels: out, KernelSize: Square(kernel)}
	}

	t.Run("Concrete", func(t *testing.T) {
		g := NewGraph()
		c := g.Apply(conv(3, 6, 5), g.Placeholder("x", Tensor(4, 3, 32, 32)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(4, 6, 28, 28), c.Type())
	})

	t.Run("Strided", func(t *testing.T) {
		g := NewGraph()
		op := Conv2D{InChannels: 3, OutChannels: 8, KernelSize: Square(3), Stride: Square(2), Padding: Square(1)}
		c := g.Apply(op, g.Placeholder("x", Tensor(1, 3, 224, 224)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, 8, 112, 112), c.Type())
	})

	t.Run("UnknownInput", func(t *testing.T) {
		g := NewGraph()
		c := g.Apply(conv(3, 6, 5), g.Placeholder("x", nil))
		mustCheck(t, g)
		assert.Equal(t, Tensor(DynDim, 6, DynDim, DynDim), c.Type())
	})

	t.Run("UnknownSpatial", func(t *testing.T) {
		g := NewGraph()
		c := g.Apply(conv(3, 6, 5), g.Placeholder("x", Tensor(4, 3, DynDim, 32)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(4, 6, DynDim, 28), c.Type())
	})

	t.Run("UnknownChannelParameter", func(t *testing.T) {
		g := NewGraph()
		c := g.Apply(conv(DynDim, 6, 5), g.Placeholder("x", Tensor(4, 3, 32, 32)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(4, 6, 28, 28), c.Type())
	})

	t.Run("ChannelMismatch", func(t *testing.T) {
		g := NewGraph()
		g.Apply(conv(3, 6, 5), g.Placeholder("x", Tensor(4, 4, 32, 32)))
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "in_channels=3")
	})

	t.Run("WrongRank", func(t *testing.T) {
		g := NewGraph()
		g.Apply(conv(3, 6, 5), g.Placeholder("x", Tensor(3, 32, 32)))
		err := Check(g)
		require.Error(t, err)
	})

	t.Run("KernelTooLarge", func(t *testing.T) {
		g := NewGraph()
		g.Apply(conv(1, 1, 5), g.Placeholder("x", Tensor(1, 1, 3, 3)))
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not fit")
	})

	t.Run("OverwritesAnnotation", func(t *testing.T) {
		g := NewGraph()
		c := g.Apply(conv(3, 6, 5), g.Placeholder("x", Tensor(4, 3, 32, 32)))
		c.Annotate(Tensor(DynDim, DynDim, DynDim, DynDim))
		mustCheck(t, g)
		// The computed type wins over the declared one.
		assert.Equal(t, Tensor(4, 6, 28, 28), c.Type())
		assert.Equal(t, Tensor(DynDim, DynDim, DynDim, DynDim), c.Annotation())
	})
}

// TestCheckBatchNorm2D tests the feature-axis consistency checks and the
// three-way precision merge with the node annotation.
func TestCheckBatchNorm2D(t *testing.T) {
	t.Run("Preserves", func(t *testing.T) {
		g := NewGraph()
		bn := g.Apply(BatchNorm2D{NumFeatures: 2}, g.Placeholder("x", Tensor(2, 2, 5, 4)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 2, 5, 4), bn.Type())
	})

	t.Run("MaterializesFeatureAxis", func(t *testing.T) {
		g := NewGraph()
		bn := g.Apply(BatchNorm2D{NumFeatures: 2}, g.Placeholder("x", Tensor(2, DynDim, 5, 4)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 2, 5, 4), bn.Type())
	})

	t.Run("MergesAnnotation", func(t *testing.T) {
		g := NewGraph()
		bn := g.Apply(BatchNorm2D{NumFeatures: 2}, g.Placeholder("x", Tensor(2, 2, DynDim, 4)))
		bn.Annotate(Tensor(2, 2, 3, DynDim))
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 2, 3, 4), bn.Type())
	})

	t.Run("UnknownInput", func(t *testing.T) {
		g := NewGraph()
		bn := g.Apply(BatchNorm2D{NumFeatures: 2}, g.Placeholder("x", nil))
		mustCheck(t, g)
		assert.Equal(t, Tensor(DynDim, 2, DynDim, DynDim), bn.Type())
	})

	t.Run("WrongRank", func(t *testing.T) {
		g := NewGraph()
		g.Apply(BatchNorm2D{NumFeatures: 2}, g.Placeholder("x", Tensor(2, 2, 4)))
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "num_features=2")
	})

	t.Run("FeatureMismatch", func(t *testing.T) {
		g := NewGraph()
		g.Apply(BatchNorm2D{NumFeatures: 2}, g.Placeholder("x", Tensor(2, 3, 5, 4)))
		err := Check(g)
		require.Error(t, err)
	})

	t.Run("AnnotationConflict", func(t *testing.T) {
		g := NewGraph()
		bn := g.Apply(BatchNorm2D{NumFeatures: 2}, g.Placeholder("x", Tensor(2, 2, 5, 4)))
		bn.Annotate(Tensor(2, 2, 3, 4))
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "annotation")
	})
}

// TestCheckPooling tests max and adaptive average pooling over rank-3 and
// rank-4 inputs.
func TestCheckPooling(t *testing.T) {
	t.Run("MaxPoolDefaultStride", func(t *testing.T) {
		g := NewGraph()
		p := g.Apply(MaxPool2D{KernelSize: Square(2)}, g.Placeholder("x", Tensor(2, 3, 32, 32)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 3, 16, 16), p.Type())
	})

	t.Run("MaxPoolRank3", func(t *testing.T) {
		g := NewGraph()
		op := MaxPool2D{KernelSize: Square(5), Stride: Square(8)}
		p := g.Apply(op, g.Placeholder("x", Tensor(64, 8, 8)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(64, 1, 1), p.Type())
	})

	t.Run("MaxPoolUnknownSpatial", func(t *testing.T) {
		g := NewGraph()
		p := g.Apply(MaxPool2D{KernelSize: Square(2)}, g.Placeholder("x", Tensor(2, 3, DynDim, 32)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 3, DynDim, 16), p.Type())
	})

	t.Run("MaxPoolUnknownInput", func(t *testing.T) {
		g := NewGraph()
		p := g.Apply(MaxPool2D{KernelSize: Square(2)}, g.Placeholder("x", nil))
		mustCheck(t, g)
		assert.Equal(t, Dyn, p.Type())
	})

	t.Run("MaxPoolWrongRank", func(t *testing.T) {
		g := NewGraph()
		g.Apply(MaxPool2D{KernelSize: Square(2)}, g.Placeholder("x", Tensor(8, 8)))
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "rank 3 or 4")
	})

	t.Run("AdaptiveAvgPool", func(t *testing.T) {
		g := NewGraph()
		op := AdaptiveAvgPool2D{OutputSize: [2]int{6, 7}}
		p := g.Apply(op, g.Placeholder("x", Tensor(1, 16, DynDim, DynDim)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(1, 16, 6, 7), p.Type())
	})

	t.Run("AdaptiveAvgPoolRank3", func(t *testing.T) {
		g := NewGraph()
		op := AdaptiveAvgPool2D{OutputSize: [2]int{6, 7}}
		p := g.Apply(op, g.Placeholder("x", Tensor(16, 11, 13)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(16, 6, 7), p.Type())
	})

	t.Run("AdaptiveAvgPoolWrongRank", func(t *testing.T) {
		g := NewGraph()
		g.Apply(AdaptiveAvgPool2D{OutputSize: [2]int{6, 7}}, g.Placeholder("x", Tensor(11, 13)))
		err := Check(g)
		require.Error(t, err)
	})
}

// TestCheckLinear tests the fully connected layer rule on the last axis.
func TestCheckLinear(t *testing.T) {
	t.Run("InnerAxes", func(t *testing.T) {
		g := NewGraph()
		l := g.Apply(Linear{InFeatures: 5, OutFeatures: 120}, g.Placeholder("x", Tensor(4, 16, 5, 5)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(4, 16, 5, 120), l.Type())
	})

	t.Run("UnknownLastAxis", func(t *testing.T) {
		g := NewGraph()
		l := g.Apply(Linear{InFeatures: 10, OutFeatures: 20}, g.Placeholder("x", Tensor(3, DynDim)))
		mustCheck(t, g)
		assert.Equal(t, Tensor(3, 20), l.Type())
	})

	t.Run("UnknownInput", func(t *testing.T) {
		g := NewGraph()
		l := g.Apply(Linear{InFeatures: 10, OutFeatures: 20}, g.Placeholder("x", nil))
		mustCheck(t, g)
		assert.Equal(t, Dyn, l.Type())
	})

	t.Run("FeatureMismatch", func(t *testing.T) {
		g := NewGraph()
		g.Apply(Linear{InFeatures: 10, OutFeatures: 20}, g.Placeholder("x", Tensor(3, 8)))
		err := Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "in_features=10")
	})

	t.Run("ScalarInput", func(t *testing.T) {
		g := NewGraph()
		g.Apply(Linear{InFeatures: 10, OutFeatures: 20}, g.Const(Float))
		err := Check(g)
		require.Error(t, err)
	})
}

// TestCheckPassthrough tests the shape-preserving operators.
func TestCheckPassthrough(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", Tensor(2, DynDim, 4))
	r := g.ReLU(x)
	out := g.Output(r)
	mustCheck(t, g)
	assert.Equal(t, Tensor(2, DynDim, 4), r.Type())
	assert.Equal(t, Tensor(2, DynDim, 4), out.Type())

	t.Run("Scalar", func(t *testing.T) {
		g := NewGraph()
		r := g.ReLU(g.Const(Float))
		mustCheck(t, g)
		assert.Equal(t, Float, r.Type())
	})
}

// TestCheckConvNet walks a small convolutional classifier end to end and
// checks every intermediate type.
func TestCheckConvNet(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", Tensor(4, 3, 32, 32))
	conv1 := g.Apply(Conv2D{InChannels: 3, OutChannels: 6, KernelSize: Square(5)}, x)
	relu1 := g.ReLU(conv1)
	pool1 := g.Apply(MaxPool2D{KernelSize: Square(2)}, relu1)
	conv2 := g.Apply(Conv2D{InChannels: 6, OutChannels: 16, KernelSize: Square(5)}, pool1)
	relu2 := g.ReLU(conv2)
	pool2 := g.Apply(MaxPool2D{KernelSize: Square(2)}, relu2)
	fc := g.Apply(Linear{InFeatures: 5, OutFeatures: 120}, pool2)
	adaptive := g.Apply(AdaptiveAvgPool2D{OutputSize: [2]int{6, 7}}, fc)
	flat := g.Flatten(adaptive, 1, -1)
	out := g.Output(flat)
	mustCheck(t, g)

	assert.Equal(t, Tensor(4, 6, 28, 28), conv1.Type())
	assert.Equal(t, Tensor(4, 6, 14, 14), pool1.Type())
	assert.Equal(t, Tensor(4, 16, 10, 10), conv2.Type())
	assert.Equal(t, Tensor(4, 16, 5, 5), pool2.Type())
	assert.Equal(t, Tensor(4, 16, 5, 120), fc.Type())
	assert.Equal(t, Tensor(4, 16, 6, 7), adaptive.Type())
	assert.Equal(t, Tensor(4, 672), flat.Type())
	assert.Equal(t, Tensor(4, 672), out.Type())

	t.Run("UnknownBatch", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("x", Tensor(DynDim, 3, 32, 32))
		conv := g.Apply(Conv2D{InChannels: 3, OutChannels: 6, KernelSize: Square(5)}, x)
		pool := g.Apply(MaxPool2D{KernelSize: Square(2)}, conv)
		flat := g.Flatten(pool, 1, -1)
		mustCheck(t, g)
		assert.Equal(t, Tensor(DynDim, 6, 14, 14), pool.Type())
		assert.Equal(t, Tensor(DynDim, 1176), flat.Type())
	})
}

// TestCheckResidualBlock tests a residual block: two 3x3 stride-1
// convolutions with batch norm, the skip connection added in place.
func TestCheckResidualBlock(t *testing.T) {
	conv3x3 := func(in, out int) Conv2D {
		return Conv2D{InChannels: in, OutChannels: out, KernelSize: Square(3), Padding: Square(1)}
	}

	build := func(g *Graph, annotation Type) (identity, out *Node) {
		x := g.Placeholder("x", annotation)
		identity = x
		y := g.Apply(conv3x3(2, 2), x)
		y = g.Apply(BatchNorm2D{NumFeatures: 2}, y)
		y = g.ReLU(y)
		y = g.Apply(conv3x3(2, 2), y)
		y = g.Apply(BatchNorm2D{NumFeatures: 2}, y)
		y = g.AddAssign(y, identity)
		y = g.ReLU(y)
		out = g.Output(y)
		return
	}

	t.Run("Concrete", func(t *testing.T) {
		g := NewGraph()
		_, out := build(g, Tensor(2, 2, 4, 5))
		mustCheck(t, g)
		// Stride-1 padded 3x3 convolutions preserve the spatial sizes.
		assert.Equal(t, Tensor(2, 2, 4, 5), out.Type())
	})

	t.Run("PartialSpatial", func(t *testing.T) {
		g := NewGraph()
		_, out := build(g, Tensor(2, 2, DynDim, 5))
		mustCheck(t, g)
		assert.Equal(t, Tensor(2, 2, DynDim, 5), out.Type())
	})

	t.Run("Unannotated", func(t *testing.T) {
		g := NewGraph()
		identity, out := build(g, nil)
		mustCheck(t, g)
		// The skip connection materializes the unknown input at rank 4, and
		// the residual sum takes the less precise side.
		assert.Equal(t, Tensor(DynDim, DynDim, DynDim, DynDim), identity.Type())
		assert.Equal(t, Tensor(DynDim, DynDim, DynDim, DynDim), out.Type())
	})
}

type customOp struct{}

func (customOp) OpName() string { return "custom" }

// TestCheckUnknownOperator tests the two behaviors for operators outside the
// built-in rule set.
func TestCheckUnknownOperator(t *testing.T) {
	t.Run("DefaultsToDyn", func(t *testing.T) {
		g := NewGraph()
		n := g.Apply(customOp{}, g.Placeholder("x", Tensor(2, 3)))
		after := g.ReLU(n)
		mustCheck(t, g)
		assert.Equal(t, Dyn, n.Type())
		assert.Equal(t, Dyn, after.Type())
	})

	t.Run("Strict", func(t *testing.T) {
		g := NewGraph()
		g.Apply(customOp{}, g.Placeholder("x", Tensor(2, 3)))
		c := Checker{StrictUnknownOps: true}
		err := c.Check(g)
		require.Error(t, err)
		require.Contains(t, err.Error(), "no rule for operator")
		require.Contains(t, err.Error(), "custom")
	})
}

// TestCheckErrors tests error reporting: the node context in the message and
// the ShapeError accessors.
func TestCheckErrors(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", Tensor(1, 2, 3))
	y := g.Placeholder("y", Tensor(1, 2, 4))
	sum := g.Add(x, y)

	err := Check(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type check failed at node #2")
	assert.Contains(t, err.Error(), `"add"`)

	shapeErr := AsShapeError(err)
	require.NotNil(t, shapeErr)
	assert.Same(t, sum, shapeErr.Node)
	assert.Equal(t, 2, shapeErr.Node.ID())

	assert.Nil(t, AsShapeError(nil))
	assert.Nil(t, AsShapeError(errors.New("unrelated")))
}

// TestCheckFailureLeavesTypesUnset tests that a failed pass does not write
// any node types, even for nodes that individually succeeded.
func TestCheckFailureLeavesTypesUnset(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", Tensor(2, 3))
	swapped := g.Transpose(x, 0, 1)
	g.Reshape(swapped, 7)

	require.Error(t, Check(g))
	for _, n := range g.Nodes() {
		assert.Nil(t, n.Type(), "node %s should have no type after a failed pass", n)
	}

	// The same graph minus the bad node checks fine.
	g2 := NewGraph()
	x2 := g2.Placeholder("x", Tensor(2, 3))
	swapped2 := g2.Transpose(x2, 0, 1)
	mustCheck(t, g2)
	assert.Equal(t, Tensor(3, 2), swapped2.Type())
}

// TestTypeCheck tests the build-and-check convenience, including the panic
// to error conversion for builder misuse.
func TestTypeCheck(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		g, err := TypeCheck(func(g *Graph) {
			x := g.Placeholder("x", Tensor(2, 3))
			g.Output(g.ReLU(x))
		})
		require.NoError(t, err)
		require.NotNil(t, g)
		require.Equal(t, 3, g.NumNodes())
		assert.Equal(t, Tensor(2, 3), g.Nodes()[2].Type())
	})

	t.Run("BuilderPanic", func(t *testing.T) {
		_, err := TypeCheck(func(g *Graph) {
			g.Add(g.Placeholder("x", nil), nil)
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "nil")
	})

	t.Run("CheckFailure", func(t *testing.T) {
		_, err := TypeCheck(func(g *Graph) {
			g.Add(g.Placeholder("x", Tensor(2)), g.Placeholder("y", Tensor(3)))
		})
		require.Error(t, err)
		require.NotNil(t, AsShapeError(err))
	})
}
