package exchangeset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/repository"
)

// Completion node ids
const (
	NodeLookup                = "Lookup"
	NodeGetJob                = "GetJob"
	NodeGetBuildStatus        = "GetBuildStatus"
	NodeGetBuild              = "GetBuild"
	NodeFinalise              = "Finalise"
	NodePublish               = "Publish"
	NodeCommitBatch           = "CommitBatch"
	NodeExpirePreviousBatches = "ExpirePreviousBatches"
	NodeAdvanceWatermark      = "AdvanceWatermark"
	NodeReplayBuildLogs       = "ReplayBuildLogs"
	NodeUpdateBuildStatus     = "UpdateBuildStatus"
	NodeRecordBuildMemento    = "RecordBuildMemento"
	NodeSignalBuildFailure    = "SignalBuildFailure"
	NodeSignalCompleted       = "SignalCompleted"
)

type completionNode = pipeline.Node[*CompletionContext]

func getJob(jobs repository.Repository[model.Job]) completionNode {
	return pipeline.NewFunc(NodeGetJob, func(ctx context.Context, c *CompletionContext) error {
		job, err := jobs.GetUnique(ctx, c.Response.JobID, model.RowKeyJob)
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
		c.attach(&job)
		c.AlreadyFinalised = job.JobState.IsTerminal()
		return nil
	})
}

func getBuildStatus(statuses repository.Repository[model.BuildStatus]) completionNode {
	return pipeline.NewFunc(NodeGetBuildStatus, func(ctx context.Context, c *CompletionContext) error {
		status, err := statuses.GetUnique(ctx, c.Response.JobID, model.RowKeyBuildStatus)
		if err != nil {
			return fmt.Errorf("failed to load build status: %w", err)
		}
		c.BuildStatus = &status
		return nil
	})
}

func getBuild(builds repository.Repository[model.Build]) completionNode {
	return pipeline.NewFunc(NodeGetBuild, func(ctx context.Context, c *CompletionContext) error {
		build, err := builds.GetUnique(ctx, c.Response.JobID, model.RowKeyBuild)
		if errors.Is(err, repository.ErrNotFound) {
			c.Logger.Warn("build summary missing, continuing with an empty summary")
			c.Build = &model.Build{JobID: c.Response.JobID, BatchID: c.Job().BatchID}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load build: %w", err)
		}
		c.Build = &build
		return nil
	})
}

func commitBatch(batches BatchStore) completionNode {
	return pipeline.NewFunc(NodeCommitBatch, func(ctx context.Context, c *CompletionContext) error {
		return batches.CommitBatch(ctx, c.Job().BatchID)
	})
}

func expirePreviousBatches(batches BatchStore, expiry time.Duration, now func() time.Time) completionNode {
	return pipeline.NewFunc(NodeExpirePreviousBatches, func(ctx context.Context, c *CompletionContext) error {
		job := c.Job()
		previous, err := batches.SearchCommittedBatches(ctx, job.DataStandard, job.BatchID)
		if err != nil {
			return err
		}
		if len(previous) == 0 {
			return nil
		}
		c.Logger.Info("expiring previous batches", zap.Strings("batches", previous))
		return batches.SetExpiryDate(ctx, previous, now().Add(expiry))
	})
}

// advanceWatermark moves the standard's timestamp forward, never back
func advanceWatermark(repo repository.Repository[model.DataStandardTimestamp]) completionNode {
	return pipeline.NewFunc(NodeAdvanceWatermark, func(ctx context.Context, c *CompletionContext) error {
		job := c.Job()
		current, err := repo.GetUnique(ctx, job.DataStandard.String(), model.RowKeyTimestamp)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to read watermark: %w", err)
		}
		c.Published = true
		if !job.ProductsLastModified.After(current.Timestamp) {
			return nil
		}
		next := model.DataStandardTimestamp{DataStandard: job.DataStandard, Timestamp: job.ProductsLastModified.UTC()}
		if err := repo.Upsert(ctx, next); err != nil {
			return fmt.Errorf("failed to advance watermark: %w", err)
		}
		return nil
	})
}

func replayBuildLogs() completionNode {
	return pipeline.NewFunc(NodeReplayBuildLogs, func(_ context.Context, c *CompletionContext) error {
		log := c.Logger.Named("builder")
		for _, line := range c.Build.Logs {
			log.Info(line)
		}
		return nil
	})
}

func updateBuildStatus(statuses repository.Repository[model.BuildStatus], now func() time.Time) completionNode {
	return pipeline.NewFunc(NodeUpdateBuildStatus, func(ctx context.Context, c *CompletionContext) error {
		status := c.BuildStatus
		status.Nodes = mergeNodeStatuses(status.Nodes, c.Build.Statuses)
		status.ExitCode = c.ExitCode()
		end := now().UTC()
		status.EndTimestamp = &end
		if err := statuses.Upsert(ctx, *status); err != nil {
			return fmt.Errorf("failed to persist build status: %w", err)
		}
		return nil
	})
}

func recordBuildMemento(mementos repository.Repository[model.BuildMemento], now func() time.Time) completionNode {
	return pipeline.NewFunc(NodeRecordBuildMemento, func(ctx context.Context, c *CompletionContext) error {
		memento := model.BuildMemento{
			ID:           uuid.New().String(),
			JobID:        c.Response.JobID,
			DataStandard: c.Job().DataStandard,
			ExitCode:     c.ExitCode(),
			Nodes:        c.BuildStatus.Nodes,
			CreatedAt:    now().UTC(),
		}
		if err := mementos.Add(ctx, memento); err != nil {
			return fmt.Errorf("failed to record memento: %w", err)
		}
		return nil
	})
}

func signalBuildFailure() completionNode {
	return pipeline.NewFunc(NodeSignalBuildFailure, func(_ context.Context, c *CompletionContext) error {
		return c.SignalBuildFailure()
	}).When(func(_ context.Context, c *CompletionContext) bool {
		return c.ExitCode() != model.ExitCodeSuccess
	})
}

func signalCompleted() completionNode {
	return pipeline.NewFunc(NodeSignalCompleted, func(_ context.Context, c *CompletionContext) error {
		return c.SignalCompleted()
	}).When(func(_ context.Context, c *CompletionContext) bool {
		return c.ExitCode() == model.ExitCodeSuccess
	})
}

func persistCompletedJob(jobs repository.Repository[model.Job]) completionNode {
	return pipeline.NewFunc(NodePersistJob, func(ctx context.Context, c *CompletionContext) error {
		if err := jobs.Upsert(ctx, *c.Job()); err != nil {
			return fmt.Errorf("failed to persist job: %w", err)
		}
		c.announce()
		return nil
	})
}

// mergeNodeStatuses overlays reported statuses on existing ones by node id
func mergeNodeStatuses(existing, reported []model.NodeStatus) []model.NodeStatus {
	merged := make([]model.NodeStatus, 0, len(existing)+len(reported))
	index := make(map[string]int, len(existing))
	for _, s := range existing {
		index[s.NodeID] = len(merged)
		merged = append(merged, s)
	}
	for _, s := range reported {
		if i, ok := index[s.NodeID]; ok {
			merged[i] = s
			continue
		}
		index[s.NodeID] = len(merged)
		merged = append(merged, s)
	}
	return merged
}
