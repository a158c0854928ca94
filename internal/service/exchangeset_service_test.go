package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangeset/orchestrator/internal/client"
	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/exchangeset"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/repository"
)

type stubCatalogue struct{}

func (stubCatalogue) GetProductsSince(context.Context, model.DataStandard, time.Time) (*client.ProductsSinceResult, error) {
	return &client.ProductsSinceResult{
		Status:       client.CatalogueOK,
		LastModified: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		Products:     []model.Product{{Name: "GB100001", Edition: 1}},
	}, nil
}

func (stubCatalogue) GetProductNames(_ context.Context, _ model.DataStandard, names []string) (*client.ProductNamesResult, error) {
	products := make([]model.Product, 0, len(names))
	for _, n := range names {
		products = append(products, model.Product{Name: n, Edition: 1})
	}
	return &client.ProductNamesResult{Products: products}, nil
}

type stubBatches struct {
	mu      sync.Mutex
	commits []string
}

func (b *stubBatches) CreateBatch(context.Context, string, model.DataStandard) (string, error) {
	return "batch-1", nil
}

func (b *stubBatches) AddFileToBatch(_ context.Context, _ string, content io.Reader, _, _ string) error {
	_, err := io.Copy(io.Discard, content)
	return err
}

func (b *stubBatches) CommitBatch(_ context.Context, batchID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commits = append(b.commits, batchID)
	return nil
}

func (b *stubBatches) SearchCommittedBatches(context.Context, model.DataStandard, string) ([]string, error) {
	return nil, nil
}

func (b *stubBatches) SetExpiryDate(context.Context, []string, time.Time) error {
	return nil
}

type harness struct {
	svc         *ExchangeSetService
	stores      *repository.Stores
	jobRequests *queue.MemoryQueue
	builds      map[model.DataStandard]*queue.MemoryQueue
	batches     *stubBatches
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		stores:      repository.NewMemoryStores(),
		jobRequests: queue.NewMemoryQueue("job-requests", time.Hour),
		builds:      map[model.DataStandard]*queue.MemoryQueue{},
		batches:     &stubBatches{},
	}
	requests := map[model.DataStandard]queue.Queue{}
	for _, std := range model.ValidDataStandards {
		q := queue.NewMemoryQueue(std.String()+"-build-requests", time.Hour)
		h.builds[std] = q
		requests[std] = q
	}
	factory, err := exchangeset.NewFactory(exchangeset.Dependencies{
		Stores:        h.stores,
		Catalogue:     stubCatalogue{},
		Batches:       h.batches,
		BuildRequests: requests,
		Standards:     config.StandardsConfig{S63NameTemplate: "V01X01_{date}", S57NameTemplate: "S57_{date}"},
		ExpiryPeriod:  time.Hour,
	}, pipeline.NewMemoryCollector(), nil)
	require.NoError(t, err)

	h.svc = NewExchangeSetService(factory, h.stores, h.jobRequests, nil)
	return h
}

func (h *harness) nextJobRequest(t *testing.T) model.JobRequest {
	t.Helper()
	msgs, err := h.jobRequests.Receive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var req model.JobRequest
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Text), &req))
	return req
}

func TestSubmitJob_PersistsAndQueues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.svc.SubmitJob(ctx, &model.SubmitJobRequest{DataStandard: "S63", CorrelationID: "corr-1"})
	require.NoError(t, err)

	assert.Equal(t, model.DataStandardS63, resp.DataStandard)
	assert.Equal(t, model.JobStateCreated, resp.JobState)

	job, err := h.svc.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", job.CorrelationID)

	req := h.nextJobRequest(t)
	assert.Equal(t, resp.JobID, req.JobID)
	assert.Equal(t, model.MessageVersion, req.Version)
	assert.Equal(t, "corr-1", req.CorrelationID)
}

func TestGetBuildStatus_ExistingJobBeforeAssembly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.svc.SubmitJob(ctx, &model.SubmitJobRequest{DataStandard: "s63"})
	require.NoError(t, err)

	status, err := h.svc.GetBuildStatus(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, status.JobID)
	assert.Equal(t, model.ExitCodeNotRun, status.ExitCode)
	assert.Nil(t, status.EndTimestamp)
}

func TestGetBuildStatus_JobWithoutStatusRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := model.NewJob("legacy-1", model.DataStandardS57, "corr", nil)
	require.NoError(t, h.stores.Jobs.Add(ctx, *job))

	status, err := h.svc.GetBuildStatus(ctx, "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, model.ExitCodeNotRun, status.ExitCode)
	assert.Equal(t, model.DataStandardS57, status.DataStandard)
}

func TestSubmitJob_RejectsUnknownStandard(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SubmitJob(context.Background(), &model.SubmitJobRequest{DataStandard: "s99"})
	assert.ErrorIs(t, err, ErrUnsupportedStandard)
	assert.Equal(t, 0, h.jobRequests.Len())
}

func TestAssembleAndComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.svc.SubmitJob(ctx, &model.SubmitJobRequest{DataStandard: "s57"})
	require.NoError(t, err)

	job, _, err := h.svc.Assemble(ctx, h.nextJobRequest(t))
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, job.ID)
	assert.Equal(t, model.JobStateSubmitted, job.JobState)
	assert.Equal(t, model.BuildStateScheduled, job.BuildState)
	assert.Equal(t, 1, h.builds[model.DataStandardS57].Len())

	status, err := h.svc.GetBuildStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExitCodeNotRun, status.ExitCode)

	_, err = h.svc.CompleteBuild(ctx, model.BuildResponse{JobID: job.ID, ExitCode: model.ExitCodeSuccess}, model.DataStandardS57)
	require.NoError(t, err)

	job, err = h.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, job.JobState)
	assert.Equal(t, model.BuildStateSucceeded, job.BuildState)
	assert.Equal(t, []string{"batch-1"}, h.batches.commits)

	mementos, err := h.svc.ListMementos(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, mementos, 1)
}

func TestAssemble_CreatesJobForUnknownID(t *testing.T) {
	h := newHarness(t)

	job, _, err := h.svc.Assemble(context.Background(), model.JobRequest{
		JobID:        "scheduled-1",
		DataStandard: model.DataStandardS63,
	})
	require.NoError(t, err)

	stored, err := h.svc.GetJob(context.Background(), "scheduled-1")
	require.NoError(t, err)
	assert.Equal(t, job.JobState, stored.JobState)
	assert.Equal(t, "scheduled-1", stored.CorrelationID)
}

func TestCompleteBuild_UnknownJobIsRetried(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CompleteBuild(context.Background(), model.BuildResponse{JobID: "missing", ExitCode: model.ExitCodeSuccess}, model.DataStandardS100)
	assert.Error(t, err)
}

func TestGetters_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = h.svc.GetBuildStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = h.svc.ListMementos(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
