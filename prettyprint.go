package shapecheck

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// String implements fmt.Stringer, and pretty prints the graph with one line
// per node: its id, name, operator with arguments and static parameters, and
// the annotation and inferred type when present.
func (g *Graph) String() string {
	var buf bytes.Buffer
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Graph with %d nodes:\n", g.NumNodes())
	opNames := sets.Make[string]()
	for _, n := range g.nodes {
		opNames.Insert(n.op.OpName())
	}
	w("\tOp types:\t%v\n", slices.Sorted(maps.Keys(opNames)))

	for _, n := range g.nodes {
		w("\t#%d\t%s := %s(", n.id, n.name, n.op.OpName())
		for ii, a := range n.args {
			if ii > 0 {
				w(", ")
			}
			w("%s", a)
		}
		w(")")
		if params := opParams(n.op); params != "" {
			w(" [%s]", params)
		}
		if n.annotation != nil {
			w("\tannotation=%s", n.annotation)
		}
		if n.typ != nil {
			w("\ttype=%s", n.typ)
		}
		w("\n")
	}
	return buf.String()
}

// opParams formats an operator's static parameters for the graph dump,
// printing effective values where zero fields default.
func opParams(op Op) string {
	switch op := op.(type) {
	case Const:
		return fmt.Sprintf("type=%s", typeString(op.Type))
	case Reshape:
		return fmt.Sprintf("shape=%v", op.Shape)
	case Transpose:
		return fmt.Sprintf("axes=(%d, %d)", op.Axis0, op.Axis1)
	case Flatten:
		return fmt.Sprintf("start_dim=%d end_dim=%d", op.StartDim, op.EndDim)
	case Conv2D:
		return fmt.Sprintf("in_channels=%d out_channels=%d kernel=%v stride=%v padding=%v dilation=%v groups=%d",
			op.InChannels, op.OutChannels, op.KernelSize,
			pairOrDefault(op.Stride, Square(1)), op.Padding,
			pairOrDefault(op.Dilation, Square(1)), intOrDefault(op.Groups, 1))
	case BatchNorm2D:
		return fmt.Sprintf("num_features=%d", op.NumFeatures)
	case MaxPool2D:
		return fmt.Sprintf("kernel=%v stride=%v padding=%v dilation=%v",
			op.KernelSize, pairOrDefault(op.Stride, op.KernelSize), op.Padding,
			pairOrDefault(op.Dilation, Square(1)))
	case AdaptiveAvgPool2D:
		return fmt.Sprintf("output_size=%v", op.OutputSize)
	case Linear:
		return fmt.Sprintf("in_features=%d out_features=%d", op.InFeatures, op.OutFeatures)
	}
	return ""
}
