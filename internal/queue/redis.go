package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	consumerGroup = "orchestrator"
	textField     = "text"
)

// RedisQueue is a Queue on a redis stream with a single consumer group.
// Unacknowledged entries are reclaimed with XAUTOCLAIM once they have been
// pending longer than the visibility timeout.
type RedisQueue struct {
	redis      *redis.Client
	name       string
	stream     string
	deliveries string
	consumer   string
	visibility time.Duration

	groupOnce sync.Once
	groupErr  error
}

func NewRedisQueue(client *redis.Client, keyPrefix, name string, visibility time.Duration) *RedisQueue {
	stream := fmt.Sprintf("queue:%s", name)
	if keyPrefix != "" {
		stream = fmt.Sprintf("%s:%s", keyPrefix, stream)
	}
	host, _ := os.Hostname()
	return &RedisQueue{
		redis:      client,
		name:       name,
		stream:     stream,
		deliveries: stream + ":deliveries",
		consumer:   fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		visibility: visibility,
	}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	q.groupOnce.Do(func() {
		err := q.redis.XGroupCreateMkStream(ctx, q.stream, consumerGroup, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("failed to create consumer group for %s: %w", q.name, err)
		}
	})
	return q.groupErr
}

func (q *RedisQueue) Enqueue(ctx context.Context, text string) error {
	err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{textField: text},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", q.name, err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		return nil, nil
	}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}

	claimed, _, err := q.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    consumerGroup,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to reclaim from %s: %w", q.name, err)
	}
	entries := claimed

	if remaining := max - len(entries); remaining > 0 {
		streams, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    int64(remaining),
			Block:    -1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to read from %s: %w", q.name, err)
		}
		for _, s := range streams {
			entries = append(entries, s.Messages...)
		}
	}

	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		count, err := q.redis.HIncrBy(ctx, q.deliveries, entry.ID, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count delivery on %s: %w", q.name, err)
		}
		text, _ := entry.Values[textField].(string)
		messages = append(messages, Message{
			ID:           entry.ID,
			PopReceipt:   q.consumer,
			Text:         text,
			DequeueCount: count,
			InsertedAt:   streamIDTime(entry.ID),
		})
	}
	return messages, nil
}

func (q *RedisQueue) Delete(ctx context.Context, id, popReceipt string) error {
	if popReceipt != q.consumer {
		return fmt.Errorf("%s on %s: %w", id, q.name, ErrMessageNotFound)
	}
	acked, err := q.redis.XAck(ctx, q.stream, consumerGroup, id).Result()
	if err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", id, q.name, err)
	}
	if acked == 0 {
		return fmt.Errorf("%s on %s: %w", id, q.name, ErrMessageNotFound)
	}
	pipe := q.redis.TxPipeline()
	pipe.XDel(ctx, q.stream, id)
	pipe.HDel(ctx, q.deliveries, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete %s on %s: %w", id, q.name, err)
	}
	return nil
}

// streamIDTime extracts the millisecond timestamp from a stream entry id
func streamIDTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	var n int64
	if _, err := fmt.Sscan(ms, &n); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
