package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
)

// TaskTypeBuild is the asynq task type the external builder consumes
const TaskTypeBuild = "exchangeset:build"

// taskEnqueuer is the part of asynq.Client the dispatcher uses
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// BuilderDispatcher hands build requests to the builder as asynq tasks.
// The task id is derived from job and batch so a redelivered request is
// not dispatched twice while the first task is retained.
type BuilderDispatcher struct {
	client taskEnqueuer
	cfg    config.BuilderConfig
}

func NewBuilderDispatcher(client *asynq.Client, cfg config.BuilderConfig) *BuilderDispatcher {
	return &BuilderDispatcher{client: client, cfg: cfg}
}

// Dispatch enqueues the build task
func (d *BuilderDispatcher) Dispatch(ctx context.Context, req model.BuildRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal build request: %w", err)
	}

	task := asynq.NewTask(TaskTypeBuild, payload)
	opts := []asynq.Option{
		asynq.Queue(d.cfg.Queue),
		asynq.MaxRetry(d.cfg.MaxRetry),
		asynq.TaskID(BuildTaskID(req)),
	}
	if d.cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(d.cfg.Retention))
	}

	_, err = d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("failed to enqueue build task: %w", err)
	}
	return nil
}

// BuildTaskID returns the dedupe id for a build request
func BuildTaskID(req model.BuildRequest) string {
	return fmt.Sprintf("build:%s:%s", req.JobID, req.BatchID)
}
