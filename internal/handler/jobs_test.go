package handler

import (
	"context"
	"encoding/json"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/service"
	"github.com/exchangeset/orchestrator/pkg/response"
)

type fakeJobService struct {
	submitted []*model.SubmitJobRequest
	jobs      map[string]*model.Job
}

func (f *fakeJobService) SubmitJob(_ context.Context, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error) {
	f.submitted = append(f.submitted, req)
	return &model.SubmitJobResponse{JobID: "job-1", DataStandard: model.DataStandardS100, JobState: model.JobStateCreated}, nil
}

func (f *fakeJobService) GetJob(_ context.Context, id string) (*model.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, service.ErrJobNotFound
}

func (f *fakeJobService) GetBuildStatus(_ context.Context, id string) (*model.BuildStatus, error) {
	if _, ok := f.jobs[id]; ok {
		return &model.BuildStatus{JobID: id, ExitCode: model.ExitCodeNotRun}, nil
	}
	return nil, service.ErrJobNotFound
}

func (f *fakeJobService) ListMementos(_ context.Context, id string) ([]model.BuildMemento, error) {
	if _, ok := f.jobs[id]; ok {
		return []model.BuildMemento{{ID: "m1", JobID: id}}, nil
	}
	return nil, errors.New("store offline")
}

func newTestApp(svc *fakeJobService) *fiber.App {
	h := NewJobHandler(svc, validator.New())
	app := fiber.New()
	app.Post("/api/jobs", h.Submit)
	app.Get("/api/jobs/:jobId", h.Get)
	app.Get("/api/jobs/:jobId/status", h.BuildStatus)
	app.Get("/api/jobs/:jobId/mementos", h.Mementos)
	return app
}

func decodeError(t *testing.T, body io.Reader) response.ErrorDetail {
	t.Helper()
	var out response.ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out.Error
}

func TestSubmit_Accepted(t *testing.T) {
	svc := &fakeJobService{}
	app := newTestApp(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"dataStandard":"s100","products":["101GB004DEVQK"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/api/jobs/job-1", resp.Header.Get(fiber.HeaderLocation))
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, []string{"101GB004DEVQK"}, svc.submitted[0].Products)
}

func TestSubmit_Validation(t *testing.T) {
	app := newTestApp(&fakeJobService{})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"dataStandard":"s99"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	detail := decodeError(t, resp.Body)
	assert.Equal(t, response.CodeValidationError, detail.Code)
	assert.Equal(t, map[string]interface{}{"DataStandard": "oneof"}, detail.Details)
}

func TestGet(t *testing.T) {
	app := newTestApp(&fakeJobService{jobs: map[string]*model.Job{
		"job-1": {ID: "job-1", JobState: model.JobStateSubmitted},
	}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	req.Header.Set(response.HeaderCorrelationID, "corr-9")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	detail := decodeError(t, resp.Body)
	assert.Equal(t, response.CodeJobNotFound, detail.Code)
	assert.Equal(t, "missing", detail.JobID)
	assert.Equal(t, "corr-9", detail.CorrelationID)
}

func TestBuildStatusAndMementos(t *testing.T) {
	app := newTestApp(&fakeJobService{jobs: map[string]*model.Job{"job-1": {ID: "job-1"}}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/status", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/mementos", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var history model.MementoListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Equal(t, "job-1", history.JobID)
	require.Len(t, history.Mementos, 1)
	assert.Equal(t, "m1", history.Mementos[0].ID)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/other/mementos", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", NewHealthHandler(map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return nil }),
	}).Health)
	app.Get("/down", NewHealthHandler(map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("refused") }),
	}).Health)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/down", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestJobHandlers_DocumentRoutes(t *testing.T) {
	file, err := parser.ParseFile(token.NewFileSet(), "jobs.go", nil, parser.ParseComments)
	require.NoError(t, err)

	documented := map[string]bool{}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || !fn.Name.IsExported() {
			continue
		}
		documented[fn.Name.Name] = fn.Doc != nil && strings.Contains(fn.Doc.Text(), "@Router /api/jobs")
	}

	require.NotEmpty(t, documented)
	for name, ok := range documented {
		assert.True(t, ok, "%s has no swagger route annotation", name)
	}
}
