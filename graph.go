package shapecheck

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/sets"
)

// Node is one step of a traced computation graph: an operator applied to the
// values produced by earlier nodes.
//
// A node optionally carries a declared type annotation (from a function
// signature or an explicit Annotate call). Its resolved type is written by a
// successful Checker.Check pass and is nil before that.
type Node struct {
	graph *Graph
	id    int
	name  string
	op    Op
	args  []*Node

	annotation Type
	typ        Type
}

// ID returns the node's stable id, its position in the graph's node order.
func (n *Node) ID() int { return n.id }

// Name returns the node's unique name within its graph.
func (n *Node) Name() string { return n.name }

// Op returns the node's operator.
func (n *Node) Op() Op { return n.op }

// Args returns the node's operand nodes. The returned slice is owned by the
// node and must not be modified.
func (n *Node) Args() []*Node { return n.args }

// Annotation returns the node's declared type, or nil if it has none.
func (n *Node) Annotation() Type { return n.annotation }

// Annotate declares the node's type, the way a source-level annotation would.
// It returns the node, so annotations can be chained onto construction.
//
// Annotations seed checking for placeholders and constrain batch-norm nodes;
// they do not bypass the checker, which still validates them.
func (n *Node) Annotate(t Type) *Node {
	n.annotation = t
	return n
}

// Type returns the node's resolved type. It is nil until a Check pass over
// the graph succeeds.
func (n *Node) Type() Type { return n.typ }

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.name, n.id)
}

// Graph is an ordered, topologically valid sequence of nodes: every operand
// reference precedes its use, which Apply enforces by construction.
//
// The graph's structure is immutable during checking; only the nodes' type
// slots are written.
type Graph struct {
	nodes []*Node
	names sets.Set[string]
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{names: sets.Make[string]()}
}

// Nodes returns the graph's nodes in topological order. The returned slice is
// owned by the graph and must not be modified.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Placeholder appends a graph input with the given name. The annotation is
// the input's declared type and may be nil for an unannotated input, which
// checks as Dyn.
func (g *Graph) Placeholder(name string, annotation Type) *Node {
	if name == "" {
		exceptions.Panicf("Placeholder: name must not be empty")
	}
	n := g.append(name, Placeholder{})
	n.annotation = annotation
	return n
}

// Const appends a literal operand with the given scalar type, e.g. the 2 in
// `x + 2`.
func (g *Graph) Const(t Type) *Node {
	n := g.append("", Const{Type: t})
	return n
}

// Apply appends a node applying op to the given arguments. All arguments must
// already belong to this graph, which keeps the node order topological.
func (g *Graph) Apply(op Op, args ...*Node) *Node {
	if op == nil {
		exceptions.Panicf("Apply: op must not be nil")
	}
	if arity, known := opArity(op); known && len(args) != arity {
		exceptions.Panicf("Apply: operator %q takes %d argument(s), got %d", op.OpName(), arity, len(args))
	}
	for i, arg := range args {
		if arg == nil {
			exceptions.Panicf("Apply: argument #%d of %q is nil", i, op.OpName())
		}
		if arg.graph != g {
			exceptions.Panicf("Apply: argument #%d (%s) of %q belongs to a different graph", i, arg, op.OpName())
		}
	}
	n := g.append("", op)
	n.args = append(n.args, args...)
	return n
}

// Add appends an elementwise addition of x and y.
func (g *Graph) Add(x, y *Node) *Node { return g.Apply(Add{}, x, y) }

// AddAssign appends an in-place addition of y onto x (`x += y`).
func (g *Graph) AddAssign(x, y *Node) *Node { return g.Apply(AddAssign{}, x, y) }

// Reshape appends a reshape of x to the given target shape. At most one entry
// may be -1, meaning that axis is inferred.
func (g *Graph) Reshape(x *Node, shape ...int) *Node {
	return g.Apply(Reshape{Shape: shape}, x)
}

// Transpose appends a swap of two axes of x.
func (g *Graph) Transpose(x *Node, axis0, axis1 int) *Node {
	return g.Apply(Transpose{Axis0: axis0, Axis1: axis1}, x)
}

// Flatten appends a merge of x's axes in [startDim, endDim] (inclusive,
// negatives counted from the end) into one axis.
func (g *Graph) Flatten(x *Node, startDim, endDim int) *Node {
	return g.Apply(Flatten{StartDim: startDim, EndDim: endDim}, x)
}

// ReLU appends a rectified linear activation of x.
func (g *Graph) ReLU(x *Node) *Node { return g.Apply(ReLU{}, x) }

// Output appends the graph result node, which takes x's type.
func (g *Graph) Output(x *Node) *Node { return g.Apply(Output{}, x) }

// append creates the node, assigns its id and a unique name, and links it
// into the graph. An empty name defaults to the operator name.
func (g *Graph) append(name string, op Op) *Node {
	if name == "" {
		name = op.OpName()
	}
	n := &Node{
		graph: g,
		id:    len(g.nodes),
		name:  g.uniqueName(name),
		op:    op,
	}
	g.nodes = append(g.nodes, n)
	return n
}

// uniqueName resolves clashes by suffixing _1, _2, ... in creation order.
func (g *Graph) uniqueName(base string) string {
	name := base
	for suffix := 1; g.names.Has(name); suffix++ {
		name = fmt.Sprintf("%s_%d", base, suffix)
	}
	g.names.Insert(name)
	return name
}

// opArity returns the number of arguments the built-in operators take. It
// reports known=false for operators outside the built-in set, whose arity the
// builder cannot check.
func opArity(op Op) (arity int, known bool) {
	switch op.(type) {
	case Placeholder, Const:
		return 0, true
	case Add, AddAssign:
		return 2, true
	case Reshape, Transpose, Flatten, Conv2D, BatchNorm2D, MaxPool2D, AdaptiveAvgPool2D, Linear, ReLU, Output:
		return 1, true
	}
	return 0, false
}
