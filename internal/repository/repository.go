// Package repository stores the orchestrator's entities as JSON rows
// addressed by a partition key and a row key.
package repository

import (
	"context"
	"errors"

	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
)

// Entity is anything addressable by partition and row key
type Entity interface {
	PartitionKey() string
	RowKey() string
}

// Repository is a last-write-wins key-value store for one entity table.
// There is no optimistic concurrency.
type Repository[T Entity] interface {
	// Add fails with ErrAlreadyExists when the row is present
	Add(ctx context.Context, entity T) error
	GetUnique(ctx context.Context, partition, row string) (T, error)
	// Update fails with ErrNotFound when the row is missing
	Update(ctx context.Context, entity T) error
	Upsert(ctx context.Context, entity T) error
	Delete(ctx context.Context, partition, row string) error
	// List returns every row of a partition in no particular order
	List(ctx context.Context, partition string) ([]T, error)
}

// Table names
const (
	TableJobs          = "jobs"
	TableBuilds        = "builds"
	TableBuildStatuses = "buildstatus"
	TableMementos      = "mementos"
	TableTimestamps    = "timestamps"
)

// Stores bundles the repositories the pipelines and the API use
type Stores struct {
	Jobs          Repository[model.Job]
	Builds        Repository[model.Build]
	BuildStatuses Repository[model.BuildStatus]
	Mementos      Repository[model.BuildMemento]
	Timestamps    Repository[model.DataStandardTimestamp]
}

// NewRedisStores returns stores backed by one redis hash per partition
func NewRedisStores(client *redis.Client, keyPrefix string) *Stores {
	return &Stores{
		Jobs:          NewRedisRepository[model.Job](client, keyPrefix, TableJobs),
		Builds:        NewRedisRepository[model.Build](client, keyPrefix, TableBuilds),
		BuildStatuses: NewRedisRepository[model.BuildStatus](client, keyPrefix, TableBuildStatuses),
		Mementos:      NewRedisRepository[model.BuildMemento](client, keyPrefix, TableMementos),
		Timestamps:    NewRedisRepository[model.DataStandardTimestamp](client, keyPrefix, TableTimestamps),
	}
}

// NewMemoryStores returns process-local stores for tests and the memory backend
func NewMemoryStores() *Stores {
	return &Stores{
		Jobs:          NewMemoryRepository[model.Job](),
		Builds:        NewMemoryRepository[model.Build](),
		BuildStatuses: NewMemoryRepository[model.BuildStatus](),
		Mementos:      NewMemoryRepository[model.BuildMemento](),
		Timestamps:    NewMemoryRepository[model.DataStandardTimestamp](),
	}
}
