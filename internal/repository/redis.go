package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps each partition in a hash at <prefix>:<table>:<partition>
// with one field per row key.
type RedisRepository[T Entity] struct {
	redis  *redis.Client
	prefix string
	table  string
}

func NewRedisRepository[T Entity](client *redis.Client, keyPrefix, table string) *RedisRepository[T] {
	return &RedisRepository[T]{redis: client, prefix: keyPrefix, table: table}
}

func (r *RedisRepository[T]) key(partition string) string {
	if r.prefix == "" {
		return fmt.Sprintf("%s:%s", r.table, partition)
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, r.table, partition)
}

func (r *RedisRepository[T]) Add(ctx context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s row: %w", r.table, err)
	}
	created, err := r.redis.HSetNX(ctx, r.key(entity.PartitionKey()), entity.RowKey(), data).Result()
	if err != nil {
		return fmt.Errorf("failed to add %s row: %w", r.table, err)
	}
	if !created {
		return fmt.Errorf("%s %s/%s: %w", r.table, entity.PartitionKey(), entity.RowKey(), ErrAlreadyExists)
	}
	return nil
}

func (r *RedisRepository[T]) GetUnique(ctx context.Context, partition, row string) (T, error) {
	var entity T
	data, err := r.redis.HGet(ctx, r.key(partition), row).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity, fmt.Errorf("%s %s/%s: %w", r.table, partition, row, ErrNotFound)
		}
		return entity, fmt.Errorf("failed to get %s row: %w", r.table, err)
	}
	if err := json.Unmarshal(data, &entity); err != nil {
		return entity, fmt.Errorf("failed to unmarshal %s row: %w", r.table, err)
	}
	return entity, nil
}

func (r *RedisRepository[T]) Update(ctx context.Context, entity T) error {
	exists, err := r.redis.HExists(ctx, r.key(entity.PartitionKey()), entity.RowKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to check %s row: %w", r.table, err)
	}
	if !exists {
		return fmt.Errorf("%s %s/%s: %w", r.table, entity.PartitionKey(), entity.RowKey(), ErrNotFound)
	}
	return r.Upsert(ctx, entity)
}

func (r *RedisRepository[T]) Upsert(ctx context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s row: %w", r.table, err)
	}
	if err := r.redis.HSet(ctx, r.key(entity.PartitionKey()), entity.RowKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to upsert %s row: %w", r.table, err)
	}
	return nil
}

func (r *RedisRepository[T]) Delete(ctx context.Context, partition, row string) error {
	removed, err := r.redis.HDel(ctx, r.key(partition), row).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s row: %w", r.table, err)
	}
	if removed == 0 {
		return fmt.Errorf("%s %s/%s: %w", r.table, partition, row, ErrNotFound)
	}
	return nil
}

func (r *RedisRepository[T]) List(ctx context.Context, partition string) ([]T, error) {
	values, err := r.redis.HVals(ctx, r.key(partition)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s rows: %w", r.table, err)
	}
	out := make([]T, 0, len(values))
	for _, v := range values {
		var entity T
		if err := json.Unmarshal([]byte(v), &entity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s row: %w", r.table, err)
		}
		out = append(out, entity)
	}
	return out, nil
}
