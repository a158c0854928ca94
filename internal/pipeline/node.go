// Package pipeline is a small sequential execution engine.
//
// A pipeline is a Composite of nodes sharing one mutable context value. Each
// node is gated by ShouldExecute and run by Execute; faults (errors and
// panics) are captured on the node's Result instead of unwinding the caller.
// Composites are nodes themselves, so pipelines nest.
package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Status is the outcome of a single node
type Status string

const (
	StatusNotRun    Status = "notRun"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Node is a unit of work run against a context of type C.
type Node[C any] interface {
	ID() string
	ShouldExecute(ctx context.Context, c C) bool
	Execute(ctx context.Context, c C) error
}

// Result describes one node execution. Children is populated for composites.
type Result struct {
	NodeID   string
	Sequence uint64
	Status   Status
	Elapsed  time.Duration
	Err      error
	Children []Result
}

// Succeeded reports whether the node ran without fault
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Failed reports whether the node or any of its children failed
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// Find returns the first result with the given node id, searching depth first.
func (r Result) Find(nodeID string) (Result, bool) {
	if r.NodeID == nodeID {
		return r, true
	}
	for _, child := range r.Children {
		if found, ok := child.Find(nodeID); ok {
			return found, true
		}
	}
	return Result{}, false
}

// Leaves returns the non-composite results in execution order.
func (r Result) Leaves() []Result {
	if len(r.Children) == 0 {
		return []Result{r}
	}
	var leaves []Result
	for _, child := range r.Children {
		leaves = append(leaves, child.Leaves()...)
	}
	return leaves
}

// NodeError attaches the failing node id to a fault
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError is recorded when a node panics
type PanicError struct {
	NodeID string
	Value  interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// Func adapts closures into a Node.
type Func[C any] struct {
	id   string
	gate func(context.Context, C) bool
	run  func(context.Context, C) error
}

// NewFunc creates an always-enabled node
func NewFunc[C any](id string, run func(context.Context, C) error) *Func[C] {
	return &Func[C]{id: id, run: run}
}

// When returns a copy of the node gated by fn
func (f *Func[C]) When(fn func(context.Context, C) bool) *Func[C] {
	clone := *f
	clone.gate = fn
	return &clone
}

func (f *Func[C]) ID() string {
	return f.id
}

func (f *Func[C]) ShouldExecute(ctx context.Context, c C) bool {
	if f.gate == nil {
		return true
	}
	return f.gate(ctx, c)
}

func (f *Func[C]) Execute(ctx context.Context, c C) error {
	return f.run(ctx, c)
}
