// Package queue provides the at-least-once message queues that connect the
// orchestrator with the external builder, and the Monitor that drains them.
package queue

import (
	"context"
	"errors"
	"time"
)

var ErrMessageNotFound = errors.New("message not found or receipt expired")

// Message is one received queue entry. PopReceipt must be passed back to
// Delete; DequeueCount counts deliveries including the current one.
type Message struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
	InsertedAt   time.Time
}

// Queue is the contract shared by the redis and in-memory backends.
// A received message stays invisible for the visibility timeout and is
// redelivered unless deleted.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, text string) error
	Receive(ctx context.Context, max int) ([]Message, error)
	Delete(ctx context.Context, id, popReceipt string) error
}
