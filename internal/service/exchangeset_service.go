package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/exchangeset"
	"github.com/exchangeset/orchestrator/internal/logging"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/repository"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrUnsupportedStandard = errors.New("unsupported data standard")
)

// ExchangeSetService is used by the API, the CLI and the queue processors
type ExchangeSetService struct {
	factory     *exchangeset.Factory
	stores      *repository.Stores
	jobRequests queue.Queue
	logger      *zap.Logger
	now         func() time.Time
}

func NewExchangeSetService(factory *exchangeset.Factory, stores *repository.Stores, jobRequests queue.Queue, logger *zap.Logger) *ExchangeSetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeSetService{
		factory:     factory,
		stores:      stores,
		jobRequests: jobRequests,
		logger:      logger.Named("service"),
		now:         time.Now,
	}
}

// SubmitJob records a new job and queues it for assembly
func (s *ExchangeSetService) SubmitJob(ctx context.Context, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error) {
	ds, ok := model.ParseDataStandard(req.DataStandard)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStandard, req.DataStandard)
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	job := model.NewJob(uuid.New().String(), ds, correlationID, req.Products)
	if err := s.stores.Jobs.Add(ctx, *job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := s.stores.BuildStatuses.Add(ctx, model.NewBuildStatus(job, job.CreatedAt)); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return nil, fmt.Errorf("failed to save build status: %w", err)
	}

	if err := s.EnqueueJobRequest(ctx, model.JobRequest{
		JobID:         job.ID,
		DataStandard:  ds,
		CorrelationID: correlationID,
		Products:      req.Products,
	}); err != nil {
		return nil, err
	}

	logging.Job(s.logger, job.ID, ds.String()).Info("job submitted", zap.String("correlation_id", correlationID))
	return toSubmitResponse(job), nil
}

// EnqueueJobRequest puts a job request on the job request queue
func (s *ExchangeSetService) EnqueueJobRequest(ctx context.Context, req model.JobRequest) error {
	req.Version = model.MessageVersion
	req.Timestamp = s.now().UTC()
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal job request: %w", err)
	}
	if err := s.jobRequests.Enqueue(ctx, string(data)); err != nil {
		return fmt.Errorf("failed to enqueue job request: %w", err)
	}
	return nil
}

// Assemble runs the assembly pipeline for a job request. An existing job
// with the same id is resumed from its persisted state.
func (s *ExchangeSetService) Assemble(ctx context.Context, req model.JobRequest) (*model.Job, pipeline.Result, error) {
	p, err := s.factory.Assembly(req.DataStandard)
	if err != nil {
		return nil, pipeline.Result{}, fmt.Errorf("%w: %v", ErrUnsupportedStandard, err)
	}

	job, err := s.loadOrCreate(ctx, req)
	if err != nil {
		return nil, pipeline.Result{}, err
	}

	log := logging.Job(s.logger, job.ID, job.DataStandard.String())
	result, err := p.Run(ctx, s.factory.NewAssemblyContext(job))
	if err != nil {
		return job, result, err
	}

	log.Info("assembly finished",
		zap.String("status", string(result.Status)),
		zap.String("job_state", string(job.JobState)),
		zap.String("build_state", string(job.BuildState)),
		zap.String("batch_id", job.BatchID),
		zap.Duration("elapsed", result.Elapsed),
	)
	if result.Failed() {
		return job, result, fmt.Errorf("assembly of job %s failed: %w", job.ID, result.Err)
	}
	return job, result, nil
}

func (s *ExchangeSetService) loadOrCreate(ctx context.Context, req model.JobRequest) (*model.Job, error) {
	if req.JobID != "" {
		job, err := s.stores.Jobs.GetUnique(ctx, req.JobID, model.RowKeyJob)
		if err == nil {
			return &job, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load job: %w", err)
		}
	}

	id := req.JobID
	if id == "" {
		id = uuid.New().String()
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = id
	}
	return model.NewJob(id, req.DataStandard, correlationID, req.Products), nil
}

// CompleteBuild runs the completion pipeline for a builder response. An
// error means the response should be delivered again: the lookup failed or
// the job could not be persisted.
func (s *ExchangeSetService) CompleteBuild(ctx context.Context, resp model.BuildResponse, std model.DataStandard) (pipeline.Result, error) {
	p, err := s.factory.Completion(std)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %v", ErrUnsupportedStandard, err)
	}

	c := s.factory.NewCompletionContext(resp)
	result, err := p.Run(ctx, c)
	if err != nil {
		return result, err
	}

	log := logging.Job(s.logger, resp.JobID, std.String())
	if lookup, ok := result.Find(exchangeset.NodeLookup); ok && lookup.Failed() {
		return result, fmt.Errorf("completion lookup for job %s failed: %w", resp.JobID, lookup.Err)
	}
	if persist, ok := result.Find(exchangeset.NodePersistJob); ok && persist.Failed() {
		return result, fmt.Errorf("completion of job %s not persisted: %w", resp.JobID, persist.Err)
	}
	if result.Failed() {
		log.Warn("completion finished with failures", zap.Error(result.Err))
	}

	job := c.Job()
	log.Info("completion finished",
		zap.String("exit_code", string(c.ExitCode())),
		zap.String("job_state", string(job.JobState)),
		zap.Bool("published", c.Published),
		zap.Bool("already_finalised", c.AlreadyFinalised),
	)
	return result, nil
}

// GetJob returns a persisted job
func (s *ExchangeSetService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.stores.Jobs.GetUnique(ctx, jobID, model.RowKeyJob)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetBuildStatus returns the build status of a job. A job whose status row
// has not been written yet reports NotRun.
func (s *ExchangeSetService) GetBuildStatus(ctx context.Context, jobID string) (*model.BuildStatus, error) {
	status, err := s.stores.BuildStatuses.GetUnique(ctx, jobID, model.RowKeyBuildStatus)
	if err == nil {
		return &status, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status = model.NewBuildStatus(job, job.CreatedAt)
	return &status, nil
}

// ListMementos returns a job's build history, oldest first
func (s *ExchangeSetService) ListMementos(ctx context.Context, jobID string) ([]model.BuildMemento, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	mementos, err := s.stores.Mementos.List(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sort.Slice(mementos, func(i, j int) bool {
		return mementos[i].CreatedAt.Before(mementos[j].CreatedAt)
	})
	return mementos, nil
}

func toSubmitResponse(job *model.Job) *model.SubmitJobResponse {
	return &model.SubmitJobResponse{
		JobID:        job.ID,
		DataStandard: job.DataStandard,
		JobState:     job.JobState,
		BuildState:   job.BuildState,
		BatchID:      job.BatchID,
		Message:      job.Message,
		CreatedAt:    job.CreatedAt,
	}
}
