package pipeline

import (
	"context"
	"time"
)

// Option configures a Composite
type Option func(*settings)

type settings struct {
	continueOnFailure bool
	throwOnError      bool
	collector         Collector
	sequence          *Sequence
}

// ContinueOnFailure keeps running children after one fails. The composite
// is still reported as failed.
func ContinueOnFailure() Option {
	return func(s *settings) { s.continueOnFailure = true }
}

// ThrowOnError makes Run return the captured fault as an error.
func ThrowOnError() Option {
	return func(s *settings) { s.throwOnError = true }
}

// WithCollector sends a telemetry record for every child node.
func WithCollector(c Collector) Option {
	return func(s *settings) { s.collector = c }
}

// WithSequence numbers telemetry records from a shared counter.
func WithSequence(seq *Sequence) Option {
	return func(s *settings) { s.sequence = seq }
}

// Composite runs its children sequentially against one shared context.
// A Composite holds no per-run state and may be reused across runs.
type Composite[C any] struct {
	id       string
	children []Node[C]
	gate     func(context.Context, C) bool
	settings settings
}

// runner is implemented by nodes that produce a nested result tree.
type runner[C any] interface {
	run(ctx context.Context, c C) Result
}

// New creates a fail-fast composite unless ContinueOnFailure is given.
func New[C any](id string, children []Node[C], opts ...Option) *Composite[C] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return &Composite[C]{
		id:       id,
		children: children,
		settings: s,
	}
}

// When gates the whole composite when it is used as a child node
func (p *Composite[C]) When(fn func(context.Context, C) bool) *Composite[C] {
	clone := *p
	clone.gate = fn
	return &clone
}

func (p *Composite[C]) ID() string {
	return p.id
}

// Children returns the child node ids in execution order
func (p *Composite[C]) Children() []string {
	ids := make([]string, len(p.children))
	for i, child := range p.children {
		ids[i] = child.ID()
	}
	return ids
}

func (p *Composite[C]) ShouldExecute(ctx context.Context, c C) bool {
	if p.gate == nil {
		return true
	}
	return p.gate(ctx, c)
}

// Execute runs the composite as a child of another pipeline.
func (p *Composite[C]) Execute(ctx context.Context, c C) error {
	result := p.run(ctx, c)
	if result.Failed() {
		return result.Err
	}
	return nil
}

// Run executes the pipeline and emits a telemetry record for the pipeline
// itself. The returned error is nil unless ThrowOnError was set.
func (p *Composite[C]) Run(ctx context.Context, c C) (Result, error) {
	result := p.run(ctx, c)
	result.Sequence = p.emit(ctx, p.id, result)
	if p.settings.throwOnError && result.Failed() {
		return result, result.Err
	}
	return result, nil
}

func (p *Composite[C]) run(ctx context.Context, c C) Result {
	start := time.Now()
	result := Result{NodeID: p.id, Status: StatusSucceeded}

	for i, child := range p.children {
		if err := ctx.Err(); err != nil {
			result.Status = StatusFailed
			if result.Err == nil {
				result.Err = err
			}
			result.Children = append(result.Children, notRun(p.children[i:])...)
			break
		}

		childResult := p.runChild(ctx, child, c)
		result.Children = append(result.Children, childResult)
		if !childResult.Failed() {
			continue
		}

		result.Status = StatusFailed
		if result.Err == nil {
			result.Err = &NodeError{NodeID: child.ID(), Err: childResult.Err}
		}
		if !p.settings.continueOnFailure {
			result.Children = append(result.Children, notRun(p.children[i+1:])...)
			break
		}
	}

	result.Elapsed = time.Since(start)
	return result
}

func (p *Composite[C]) runChild(ctx context.Context, child Node[C], c C) Result {
	open, err := shouldExecute(ctx, child, c)
	if err != nil {
		res := Result{NodeID: child.ID(), Status: StatusFailed, Err: err}
		res.Sequence = p.emit(ctx, child.ID(), res)
		return res
	}
	if !open {
		res := Result{NodeID: child.ID(), Status: StatusNotRun}
		res.Sequence = p.emit(ctx, child.ID(), res)
		return res
	}

	start := time.Now()
	var res Result
	if nested, ok := child.(runner[C]); ok {
		res = nested.run(ctx, c)
	} else {
		res = Result{NodeID: child.ID(), Status: StatusSucceeded}
		if err := execute(ctx, child, c); err != nil {
			res.Status = StatusFailed
			res.Err = err
		}
	}
	res.Elapsed = time.Since(start)
	res.Sequence = p.emit(ctx, child.ID(), res)
	return res
}

func (p *Composite[C]) emit(ctx context.Context, nodeID string, res Result) uint64 {
	var seq uint64
	if p.settings.sequence != nil {
		seq = p.settings.sequence.Next()
	}
	if p.settings.collector == nil {
		return seq
	}
	record := Telemetry{
		Sequence:   seq,
		PipelineID: p.id,
		NodeID:     nodeID,
		Status:     res.Status,
		Elapsed:    res.Elapsed,
		Timestamp:  time.Now().UTC(),
	}
	if res.Err != nil {
		record.Error = res.Err.Error()
	}
	p.settings.collector.Collect(ctx, record)
	return seq
}

func shouldExecute[C any](ctx context.Context, node Node[C], c C) (open bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{NodeID: node.ID(), Value: r}
		}
	}()
	return node.ShouldExecute(ctx, c), nil
}

func execute[C any](ctx context.Context, node Node[C], c C) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{NodeID: node.ID(), Value: r}
		}
	}()
	return node.Execute(ctx, c)
}

func notRun[C any](nodes []Node[C]) []Result {
	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		results = append(results, Result{NodeID: node.ID(), Status: StatusNotRun})
	}
	return results
}
