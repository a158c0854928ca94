package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Telemetry is the side-channel record emitted for every node
type Telemetry struct {
	Sequence   uint64
	PipelineID string
	NodeID     string
	Status     Status
	Elapsed    time.Duration
	Error      string
	Timestamp  time.Time
}

// Collector receives telemetry records. Implementations must be safe for
// concurrent use; monitors share one collector.
type Collector interface {
	Collect(ctx context.Context, t Telemetry)
}

// Sequence is a process-scoped monotonic counter. It is injected rather than
// global so tests can own and reset it.
type Sequence struct {
	n atomic.Uint64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next value, starting at 1
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last value handed out
func (s *Sequence) Current() uint64 {
	return s.n.Load()
}

func (s *Sequence) Reset() {
	s.n.Store(0)
}

// LogCollector writes telemetry to a zap logger
type LogCollector struct {
	logger *zap.Logger
}

func NewLogCollector(logger *zap.Logger) *LogCollector {
	return &LogCollector{logger: logger.Named("pipeline")}
}

func (c *LogCollector) Collect(_ context.Context, t Telemetry) {
	fields := []zap.Field{
		zap.Uint64("seq", t.Sequence),
		zap.String("pipeline", t.PipelineID),
		zap.String("node", t.NodeID),
		zap.String("status", string(t.Status)),
		zap.Duration("elapsed", t.Elapsed),
	}
	switch t.Status {
	case StatusFailed:
		c.logger.Warn("node failed", append(fields, zap.String("error", t.Error))...)
	case StatusNotRun:
		c.logger.Debug("node skipped", fields...)
	default:
		c.logger.Debug("node completed", fields...)
	}
}

// MemoryCollector keeps records in memory
type MemoryCollector struct {
	mu      sync.Mutex
	records []Telemetry
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

func (c *MemoryCollector) Collect(_ context.Context, t Telemetry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, t)
}

// Records returns a copy of everything collected so far
func (c *MemoryCollector) Records() []Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Telemetry, len(c.records))
	copy(out, c.records)
	return out
}

func (c *MemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
}

// MultiCollector fans a record out to several collectors
type MultiCollector []Collector

func (m MultiCollector) Collect(ctx context.Context, t Telemetry) {
	for _, c := range m {
		if c != nil {
			c.Collect(ctx, t)
		}
	}
}
