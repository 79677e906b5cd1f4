// Package shapecheck implements a gradual shape checker for tensor
// computation graphs.
//
// A Graph is a sequence of operator applications (see Op) over placeholder
// and constant leaves. Each node carries an optional user annotation and,
// after a successful Check, an inferred Type. Types form a gradual lattice:
// the fully unknown Dyn, the scalar types Int and Float, and TensorType with
// per-axis sizes where DynDim marks an unknown axis.
//
// Checking is a single forward pass over the graph. Operator rules accept any
// operand types consistent with their expectations (see IsConsistent), so
// partially annotated graphs check without spurious failures and a fully
// unannotated graph always checks. The pass stops at the first violation and
// reports it as a *ShapeError naming the node.
//
// Example:
//
//	g := shapecheck.NewGraph()
//	x := g.Placeholder("x", shapecheck.Tensor(1, 2, 3, shapecheck.DynDim))
//	y := g.Placeholder("y", shapecheck.Tensor(2, 3, 4))
//	sum := g.Add(x, y)
//	g.Output(sum)
//	if err := shapecheck.Check(g); err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(sum.Type()) // (1, 2, 3, Dyn)
package shapecheck

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Checker runs shape inference passes over graphs. The zero value is a valid
// checker with the default behavior.
type Checker struct {
	// StrictUnknownOps makes Check fail on operators it has no rule for.
	// When false (the default) such nodes are assigned Dyn and a warning is
	// logged, so graphs mixing known and unknown operators still check.
	StrictUnknownOps bool
}

// Check runs one forward inference pass over g.
//
// On success every node's Type is set to its inferred type and Check returns
// nil. On failure it returns a *ShapeError naming the first node whose rule
// rejected its operands, and no node types are modified.
//
// Nodes are visited in creation order, which topologically orders the graph
// since arguments always precede their uses. The pass owns an id to type
// map; rules never mutate nodes, and the add rule's operand refinements are
// plain map updates that the final write-back makes visible.
func (c *Checker) Check(g *Graph) error {
	types := make(map[int]Type, g.NumNodes())
	for _, n := range g.Nodes() {
		t, err := c.inferNode(n, types)
		if err != nil {
			return &ShapeError{Node: n, err: err}
		}
		types[n.id] = t
		if klog.V(2).Enabled() {
			klog.Infof("shapecheck: %s: %s", n, typeString(t))
		}
	}
	for _, n := range g.Nodes() {
		n.typ = types[n.id]
	}
	return nil
}

// inferNode dispatches n to its operator's rule and returns the inferred
// type. It reads operand types from (and writes refinements to) types, never
// to the nodes themselves.
func (c *Checker) inferNode(n *Node, types map[int]Type) (Type, error) {
	arg := func(i int) Type { return types[n.args[i].id] }

	switch op := n.op.(type) {
	case Placeholder:
		if n.annotation != nil {
			return n.annotation, nil
		}
		return Dyn, nil
	case Const:
		return op.Type, nil
	case Add, AddAssign:
		out, r1, r2, err := inferAdd(arg(0), arg(1))
		if err != nil {
			return nil, err
		}
		types[n.args[0].id] = r1
		types[n.args[1].id] = r2
		return out, nil
	case Reshape:
		return op.infer(arg(0))
	case Transpose:
		return op.infer(arg(0))
	case Flatten:
		return op.infer(arg(0))
	case Conv2D:
		return op.infer(arg(0))
	case BatchNorm2D:
		return op.infer(arg(0), n.annotation)
	case MaxPool2D:
		return op.infer(arg(0))
	case AdaptiveAvgPool2D:
		return op.infer(arg(0))
	case Linear:
		return op.infer(arg(0))
	case ReLU:
		return arg(0), nil
	case Output:
		return arg(0), nil
	}

	if c.StrictUnknownOps {
		return nil, errors.Errorf("no rule for operator %s", n.op.OpName())
	}
	klog.Warningf("shapecheck: no rule for operator %s at node %s, assigning Dyn", n.op.OpName(), n)
	return Dyn, nil
}

// Check runs a default Checker over g. See Checker.Check.
func Check(g *Graph) error {
	var c Checker
	return c.Check(g)
}

// TypeCheck builds a graph with build and checks it with a default Checker.
// Panics thrown by the graph building methods (invalid operator parameters,
// arity mismatches, foreign nodes) are converted to errors, so callers get
// a single error path for both construction and checking.
func TypeCheck(build func(g *Graph)) (g *Graph, err error) {
	g = NewGraph()
	err = exceptions.TryCatch[error](func() { build(g) })
	if err != nil {
		return nil, err
	}
	if err = Check(g); err != nil {
		return nil, err
	}
	return g, nil
}
