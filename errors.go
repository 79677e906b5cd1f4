package shapecheck

import (
	"fmt"

	"github.com/pkg/errors"
)

// ShapeError is the failure a Check pass reports: an operator rule rejected
// its operand shapes at a specific node. It aborts the pass at the first
// inconsistency; there is no recovery or continuation.
type ShapeError struct {
	// Node is the node whose rule failed.
	Node *Node

	err error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("type check failed at node #%d (%q, operator %s): %v",
		e.Node.ID(), e.Node.Name(), e.Node.Op().OpName(), e.err)
}

// Unwrap returns the underlying rule error.
func (e *ShapeError) Unwrap() error { return e.err }

// AsShapeError returns the *ShapeError in err's chain, or nil if there is
// none.
func AsShapeError(err error) *ShapeError {
	var shapeErr *ShapeError
	if errors.As(err, &shapeErr) {
		return shapeErr
	}
	return nil
}
