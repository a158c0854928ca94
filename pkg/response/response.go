// Package response renders the job API's JSON bodies and error envelope.
package response

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Error codes
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeUnsupportedStandard = "UNSUPPORTED_DATA_STANDARD"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeRateLimited         = "RATE_LIMITED"
	CodeServiceError        = "SERVICE_ERROR"
)

// HeaderCorrelationID is echoed back in error bodies when a caller sets it
const HeaderCorrelationID = "X-Correlation-ID"

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code          string      `json:"code"`
	Message       string      `json:"message"`
	Details       interface{} `json:"details,omitempty"`
	JobID         string      `json:"jobId,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

func write(c *fiber.Ctx, status int, detail ErrorDetail) error {
	detail.CorrelationID = c.Get(HeaderCorrelationID)
	return c.Status(status).JSON(ErrorResponse{Error: detail})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return write(c, fiber.StatusBadRequest, ErrorDetail{Code: CodeValidationError, Message: message, Details: details})
}

// UnsupportedStandard rejects a data standard the orchestrator has no pipeline for
func UnsupportedStandard(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusBadRequest, ErrorDetail{Code: CodeUnsupportedStandard, Message: message})
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusUnauthorized, ErrorDetail{Code: CodeUnauthorized, Message: message})
}

func JobNotFound(c *fiber.Ctx, jobID string) error {
	return write(c, fiber.StatusNotFound, ErrorDetail{Code: CodeJobNotFound, Message: "Job not found", JobID: jobID})
}

// RateLimited answers 429 and tells the caller when the window reopens
func RateLimited(c *fiber.Ctx, retryAfter time.Duration) error {
	if retryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
	}
	return write(c, fiber.StatusTooManyRequests, ErrorDetail{Code: CodeRateLimited, Message: "Rate limit exceeded"})
}

func ServiceError(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusInternalServerError, ErrorDetail{Code: CodeServiceError, Message: message})
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

// Accepted answers 202 with a Location pointing at the job resource
func Accepted(c *fiber.Ctx, location string, data interface{}) error {
	if location != "" {
		c.Location(location)
	}
	return c.Status(fiber.StatusAccepted).JSON(data)
}
