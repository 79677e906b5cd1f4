package reference

import (
	"github.com/pkg/errors"

	"github.com/gomlx/shapecheck"
)

// Execute runs a graph on concrete inputs, keyed by placeholder name, and
// returns the value of every node, keyed by node id.
//
// Layered operators (convolutions, linear, batch norm) get deterministic
// parameter tensors sized from their static parameters and the concrete
// input. The graph does not have to be checked first: execution computes
// shapes independently, which is what makes it a useful cross-check against
// the checker's inferred types.
func Execute(g *shapecheck.Graph, inputs map[string]*Tensor) (map[int]*Tensor, error) {
	values := make(map[int]*Tensor, g.NumNodes())
	for _, n := range g.Nodes() {
		v, err := executeNode(n, values, inputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "executing node %s", n)
		}
		values[n.ID()] = v
	}
	return values, nil
}

func executeNode(n *shapecheck.Node, values map[int]*Tensor, inputs map[string]*Tensor) (*Tensor, error) {
	arg := func(i int) *Tensor { return values[n.Args()[i].ID()] }

	switch op := n.Op().(type) {
	case shapecheck.Placeholder:
		v, ok := inputs[n.Name()]
		if !ok {
			return nil, errors.Errorf("no input value for placeholder %q", n.Name())
		}
		return v, nil
	case shapecheck.Const:
		return Scalar(1), nil
	case shapecheck.Add, shapecheck.AddAssign:
		return add(arg(0), arg(1))
	case shapecheck.Reshape:
		return reshape(arg(0), op.Shape)
	case shapecheck.Transpose:
		return transpose(arg(0), op.Axis0, op.Axis1)
	case shapecheck.Flatten:
		return flatten(arg(0), op.StartDim, op.EndDim)
	case shapecheck.Conv2D:
		x := arg(0)
		if x.Rank() != 4 {
			return nil, errors.Errorf("conv2d: input must be rank 4, got %v", x.Dims)
		}
		groups := intOr(op.Groups, 1)
		inC := x.Dims[1]
		if inC%groups != 0 {
			return nil, errors.Errorf("conv2d: %d input channels not divisible by groups=%d", inC, groups)
		}
		weight := fillParam(New(op.OutChannels, inC/groups, op.KernelSize[0], op.KernelSize[1]))
		bias := fillParam(New(op.OutChannels))
		return conv2d(x, weight, bias,
			pairOr(op.Stride, shapecheck.Square(1)), op.Padding, pairOr(op.Dilation, shapecheck.Square(1)), groups)
	case shapecheck.BatchNorm2D:
		return batchNorm2d(arg(0), op.NumFeatures)
	case shapecheck.MaxPool2D:
		return maxPool2d(arg(0), op.KernelSize,
			pairOr(op.Stride, op.KernelSize), op.Padding, pairOr(op.Dilation, shapecheck.Square(1)))
	case shapecheck.AdaptiveAvgPool2D:
		return adaptiveAvgPool2d(arg(0), op.OutputSize[0], op.OutputSize[1])
	case shapecheck.Linear:
		weight := fillParam(New(op.OutFeatures, op.InFeatures))
		bias := fillParam(New(op.OutFeatures))
		return linear(arg(0), weight, bias)
	case shapecheck.ReLU:
		return relu(arg(0)), nil
	case shapecheck.Output:
		return arg(0), nil
	}
	return nil, errors.Errorf("cannot execute operator %s", n.Op().OpName())
}

func pairOr(pair, def [2]int) [2]int {
	if pair == [2]int{} {
		return def
	}
	return pair
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
