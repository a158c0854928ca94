package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	message   Message
	visibleAt time.Time
}

// MemoryQueue is a process-local Queue with visibility timeouts
type MemoryQueue struct {
	mu         sync.Mutex
	name       string
	visibility time.Duration
	entries    []*memoryEntry
	now        func() time.Time
}

func NewMemoryQueue(name string, visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{name: name, visibility: visibility, now: time.Now}
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Enqueue(_ context.Context, text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	q.entries = append(q.entries, &memoryEntry{
		message:   Message{ID: uuid.NewString(), Text: text, InsertedAt: now.UTC()},
		visibleAt: now,
	})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []Message
	for _, e := range q.entries {
		if len(out) >= max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.visibleAt = now.Add(q.visibility)
		e.message.DequeueCount++
		e.message.PopReceipt = uuid.NewString()
		out = append(out, e.message)
	}
	return out, nil
}

func (q *MemoryQueue) Delete(_ context.Context, id, popReceipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.message.ID == id && e.message.PopReceipt == popReceipt {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s on %s: %w", id, q.name, ErrMessageNotFound)
}

// Len returns the number of messages still queued, visible or not
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
