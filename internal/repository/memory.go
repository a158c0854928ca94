package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryRepository is a process-local Repository. Rows are stored encoded
// so callers never share state with the store.
type MemoryRepository[T Entity] struct {
	mu   sync.RWMutex
	rows map[string]map[string][]byte
}

func NewMemoryRepository[T Entity]() *MemoryRepository[T] {
	return &MemoryRepository[T]{rows: make(map[string]map[string][]byte)}
}

func (r *MemoryRepository[T]) Add(_ context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[entity.PartitionKey()][entity.RowKey()]; ok {
		return fmt.Errorf("%s/%s: %w", entity.PartitionKey(), entity.RowKey(), ErrAlreadyExists)
	}
	r.put(entity.PartitionKey(), entity.RowKey(), data)
	return nil
}

func (r *MemoryRepository[T]) GetUnique(_ context.Context, partition, row string) (T, error) {
	var entity T
	r.mu.RLock()
	data, ok := r.rows[partition][row]
	r.mu.RUnlock()
	if !ok {
		return entity, fmt.Errorf("%s/%s: %w", partition, row, ErrNotFound)
	}
	err := json.Unmarshal(data, &entity)
	return entity, err
}

func (r *MemoryRepository[T]) Update(_ context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[entity.PartitionKey()][entity.RowKey()]; !ok {
		return fmt.Errorf("%s/%s: %w", entity.PartitionKey(), entity.RowKey(), ErrNotFound)
	}
	r.put(entity.PartitionKey(), entity.RowKey(), data)
	return nil
}

func (r *MemoryRepository[T]) Upsert(_ context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(entity.PartitionKey(), entity.RowKey(), data)
	return nil
}

func (r *MemoryRepository[T]) Delete(_ context.Context, partition, row string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[partition][row]; !ok {
		return fmt.Errorf("%s/%s: %w", partition, row, ErrNotFound)
	}
	delete(r.rows[partition], row)
	if len(r.rows[partition]) == 0 {
		delete(r.rows, partition)
	}
	return nil
}

func (r *MemoryRepository[T]) List(_ context.Context, partition string) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.rows[partition]))
	for _, data := range r.rows[partition] {
		var entity T
		if err := json.Unmarshal(data, &entity); err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func (r *MemoryRepository[T]) put(partition, row string, data []byte) {
	if r.rows[partition] == nil {
		r.rows[partition] = make(map[string][]byte)
	}
	r.rows[partition][row] = data
}
