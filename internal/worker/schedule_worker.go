package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/model"
)

// TaskTypeSchedule triggers a catalogue-driven job for one data standard
const TaskTypeSchedule = "exchangeset:schedule"

type schedulePayload struct {
	DataStandard model.DataStandard `json:"dataStandard"`
}

type submitter interface {
	SubmitJob(ctx context.Context, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error)
}

// NewScheduleTask builds the periodic task registered with the scheduler
func NewScheduleTask(std model.DataStandard) (*asynq.Task, error) {
	payload, err := json.Marshal(schedulePayload{DataStandard: std})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schedule payload: %w", err)
	}
	return asynq.NewTask(TaskTypeSchedule, payload), nil
}

// ScheduleWorker turns scheduler ticks into job requests
type ScheduleWorker struct {
	service submitter
	logger  *zap.Logger
}

func NewScheduleWorker(service submitter, logger *zap.Logger) *ScheduleWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleWorker{service: service, logger: logger.Named("scheduler")}
}

// ProcessTask handles a scheduler tick
func (w *ScheduleWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload schedulePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal schedule payload: %v: %w", err, asynq.SkipRetry)
	}
	if !isKnownStandard(payload.DataStandard) {
		return fmt.Errorf("unsupported data standard %q: %w", payload.DataStandard, asynq.SkipRetry)
	}

	resp, err := w.service.SubmitJob(ctx, &model.SubmitJobRequest{DataStandard: payload.DataStandard.String()})
	if err != nil {
		return fmt.Errorf("failed to submit scheduled job: %w", err)
	}
	w.logger.Info("scheduled job submitted",
		zap.String("job_id", resp.JobID),
		zap.String("data_standard", payload.DataStandard.String()),
	)
	return nil
}
