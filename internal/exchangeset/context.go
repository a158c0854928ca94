package exchangeset

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/client"
	"github.com/exchangeset/orchestrator/internal/model"
)

// Catalogue is the product catalogue the assembly pipeline queries
type Catalogue interface {
	GetProductsSince(ctx context.Context, standard model.DataStandard, since time.Time) (*client.ProductsSinceResult, error)
	GetProductNames(ctx context.Context, standard model.DataStandard, names []string) (*client.ProductNamesResult, error)
}

// BatchStore is the external file store batches are staged in
type BatchStore interface {
	CreateBatch(ctx context.Context, correlationID string, standard model.DataStandard) (string, error)
	AddFileToBatch(ctx context.Context, batchID string, content io.Reader, name, contentType string) error
	CommitBatch(ctx context.Context, batchID string) error
	SearchCommittedBatches(ctx context.Context, standard model.DataStandard, excludeBatchID string) ([]string, error)
	SetExpiryDate(ctx context.Context, batchIDs []string, expiry time.Time) error
}

// AssemblyContext is the shared state of one assembly run
type AssemblyContext struct {
	State

	Watermark    time.Time
	BuildRequest *model.BuildRequest
	Logger       *zap.Logger

	assemblyFailed bool
}

// AssemblyFailed reports whether SignalAssemblyError was raised in this run
func (c *AssemblyContext) AssemblyFailed() bool {
	return c.assemblyFailed
}

// SignalAssemblyError fails the job and marks the run as not persistable
func (c *AssemblyContext) SignalAssemblyError(reason string) error {
	c.assemblyFailed = true
	return c.State.SignalAssemblyError(reason)
}

// CompletionContext is the shared state of one completion run
type CompletionContext struct {
	State

	Response    model.BuildResponse
	BuildStatus *model.BuildStatus
	Build       *model.Build
	Logger      *zap.Logger

	// AlreadyFinalised is set when the job was terminal before this run
	AlreadyFinalised bool
	Published        bool
}

// ExitCode returns the builder's reported exit code, NotRun when absent
func (c *CompletionContext) ExitCode() model.ExitCode {
	if c.Response.ExitCode == "" {
		return model.ExitCodeNotRun
	}
	return c.Response.ExitCode
}

// attach sets the job loaded by the lookup stage
func (c *CompletionContext) attach(job *model.Job) {
	c.State.job = job
}
