package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/service"
	"github.com/exchangeset/orchestrator/pkg/response"
)

// JobService is the part of the exchange set service the API uses
type JobService interface {
	SubmitJob(ctx context.Context, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	GetBuildStatus(ctx context.Context, jobID string) (*model.BuildStatus, error)
	ListMementos(ctx context.Context, jobID string) ([]model.BuildMemento, error)
}

type JobHandler struct {
	service   JobService
	validator *validator.Validate
}

func NewJobHandler(svc JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/jobs
// @Summary Submit an exchange set job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body model.SubmitJobRequest true "Job request"
// @Success 202 {object} model.SubmitJobResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/jobs [post]
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.SubmitJob(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedStandard) {
			return response.UnsupportedStandard(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, "/api/jobs/"+result.JobID, result)
}

// Get handles GET /api/jobs/:jobId
// @Summary Get a job
// @Tags jobs
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} model.Job
// @Failure 404 {object} response.ErrorResponse
// @Router /api/jobs/{jobId} [get]
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, jobID, err)
	}
	return response.OK(c, job)
}

// BuildStatus handles GET /api/jobs/:jobId/status
// @Summary Get the build status of a job
// @Tags jobs
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} model.BuildStatus
// @Failure 404 {object} response.ErrorResponse
// @Router /api/jobs/{jobId}/status [get]
func (h *JobHandler) BuildStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	status, err := h.service.GetBuildStatus(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, jobID, err)
	}
	return response.OK(c, status)
}

// Mementos handles GET /api/jobs/:jobId/mementos
// @Summary List the build history of a job
// @Tags jobs
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} model.MementoListResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/jobs/{jobId}/mementos [get]
func (h *JobHandler) Mementos(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	mementos, err := h.service.ListMementos(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, jobID, err)
	}
	return response.OK(c, model.MementoListResponse{JobID: jobID, Mementos: mementos})
}

func jobError(c *fiber.Ctx, jobID string, err error) error {
	if errors.Is(err, service.ErrJobNotFound) {
		return response.JobNotFound(c, jobID)
	}
	return response.ServiceError(c, err.Error())
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
