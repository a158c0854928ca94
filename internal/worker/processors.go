package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
)

type assembler interface {
	Assemble(ctx context.Context, req model.JobRequest) (*model.Job, pipeline.Result, error)
}

type completer interface {
	CompleteBuild(ctx context.Context, resp model.BuildResponse, std model.DataStandard) (pipeline.Result, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, req model.BuildRequest) error
}

// JobRequestProcessor runs the assembly pipeline for queued job requests
type JobRequestProcessor struct {
	service assembler
	logger  *zap.Logger
}

func NewJobRequestProcessor(service assembler, logger *zap.Logger) *JobRequestProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobRequestProcessor{service: service, logger: logger.Named("job-requests")}
}

func (p *JobRequestProcessor) ProcessMessage(ctx context.Context, req model.JobRequest) error {
	if !isKnownStandard(req.DataStandard) {
		return fmt.Errorf("job request %s has unsupported data standard %q", req.JobID, req.DataStandard)
	}
	job, _, err := p.service.Assemble(ctx, req)
	if err != nil {
		return err
	}
	p.logger.Debug("job request processed",
		zap.String("job_id", job.ID),
		zap.String("job_state", string(job.JobState)),
	)
	return nil
}

// BuildRequestProcessor hands queued build requests to the builder
type BuildRequestProcessor struct {
	dispatcher dispatcher
	standard   model.DataStandard
	logger     *zap.Logger
}

func NewBuildRequestProcessor(d dispatcher, std model.DataStandard, logger *zap.Logger) *BuildRequestProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuildRequestProcessor{
		dispatcher: d,
		standard:   std,
		logger:     logger.Named("build-requests").With(zap.String("data_standard", std.String())),
	}
}

func (p *BuildRequestProcessor) ProcessMessage(ctx context.Context, req model.BuildRequest) error {
	if req.DataStandard == "" {
		req.DataStandard = p.standard
	}
	if req.JobID == "" || req.BatchID == "" {
		return fmt.Errorf("build request is missing job or batch id")
	}
	if err := p.dispatcher.Dispatch(ctx, req); err != nil {
		return fmt.Errorf("failed to dispatch build for job %s: %w", req.JobID, err)
	}
	p.logger.Info("build dispatched", zap.String("job_id", req.JobID), zap.String("batch_id", req.BatchID))
	return nil
}

// BuildResponseProcessor runs the completion pipeline for builder responses
type BuildResponseProcessor struct {
	service  completer
	standard model.DataStandard
	logger   *zap.Logger
}

func NewBuildResponseProcessor(service completer, std model.DataStandard, logger *zap.Logger) *BuildResponseProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuildResponseProcessor{
		service:  service,
		standard: std,
		logger:   logger.Named("build-responses").With(zap.String("data_standard", std.String())),
	}
}

func (p *BuildResponseProcessor) ProcessMessage(ctx context.Context, resp model.BuildResponse) error {
	if resp.JobID == "" {
		return fmt.Errorf("build response is missing job id")
	}
	if resp.DataStandard != "" && resp.DataStandard != p.standard {
		p.logger.Warn("build response names another data standard",
			zap.String("job_id", resp.JobID),
			zap.String("response_standard", resp.DataStandard.String()),
		)
	}
	_, err := p.service.CompleteBuild(ctx, resp, p.standard)
	return err
}

func isKnownStandard(std model.DataStandard) bool {
	for _, s := range model.ValidDataStandards {
		if s == std {
			return true
		}
	}
	return false
}
