package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Processor handles one decoded message. A nil error deletes the message.
type Processor[T any] interface {
	ProcessMessage(ctx context.Context, msg T) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc[T any] func(ctx context.Context, msg T) error

func (f ProcessorFunc[T]) ProcessMessage(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// Monitor polls a queue and feeds decoded messages to a processor.
// Faults are logged and the message is left for redelivery.
type Monitor[T any] struct {
	queue        Queue
	processor    Processor[T]
	batchSize    int
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewMonitor[T any](q Queue, processor Processor[T], batchSize int, pollInterval time.Duration, logger *zap.Logger) *Monitor[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor[T]{
		queue:        q,
		processor:    processor,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		logger:       logger.Named("monitor").With(zap.String("queue", q.Name())),
	}
}

// Run polls until ctx is cancelled. A batch already received is always
// processed to the end.
func (m *Monitor[T]) Run(ctx context.Context) {
	m.logger.Info("queue monitor started",
		zap.Int("batch_size", m.batchSize),
		zap.Duration("poll_interval", m.pollInterval),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("queue monitor stopped")
			return
		case <-timer.C:
		}

		if _, err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("queue poll failed", zap.Error(err))
		}
		timer.Reset(m.pollInterval)
	}
}

// Poll runs one receive/process/delete cycle and returns the number of
// messages processed and deleted.
func (m *Monitor[T]) Poll(ctx context.Context) (int, error) {
	messages, err := m.queue.Receive(ctx, m.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to receive: %w", err)
	}

	work := context.WithoutCancel(ctx)
	done := 0
	for _, msg := range messages {
		if m.handle(work, msg) {
			done++
		}
	}
	return done, nil
}

func (m *Monitor[T]) handle(ctx context.Context, msg Message) bool {
	log := m.logger.With(
		zap.String("message_id", msg.ID),
		zap.Int64("dequeue_count", msg.DequeueCount),
	)

	var payload T
	if err := json.Unmarshal([]byte(msg.Text), &payload); err != nil {
		log.Error("failed to decode queue message", zap.Error(err))
		return false
	}

	if err := m.processor.ProcessMessage(ctx, payload); err != nil {
		log.Error("failed to process queue message", zap.Error(err))
		return false
	}

	if err := m.queue.Delete(ctx, msg.ID, msg.PopReceipt); err != nil {
		log.Error("failed to delete processed message", zap.Error(err))
		return false
	}
	return true
}
