package exchangeset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/client"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/repository"
)

// Assembly node ids
const (
	NodeGetDataStandardTimestamp = "GetDataStandardTimestamp"
	NodeGetProducts              = "GetProducts"
	NodeFilterProducts           = "FilterProducts"
	NodeCreateBatch              = "CreateBatch"
	NodeAddProductManifest       = "AddProductManifest"
	NodePersistJob               = "PersistJob"
	NodeScheduleBuild            = "ScheduleBuild"
)

type assemblyNode = pipeline.Node[*AssemblyContext]

// needsContent is the gate for the catalogue and filter nodes
func needsContent(_ context.Context, c *AssemblyContext) bool {
	job := c.Job()
	return job.BuildState == model.BuildStateNone && !job.JobState.IsTerminal()
}

func getDataStandardTimestamp(repo repository.Repository[model.DataStandardTimestamp]) assemblyNode {
	return pipeline.NewFunc(NodeGetDataStandardTimestamp, func(ctx context.Context, c *AssemblyContext) error {
		job := c.Job()
		ts, err := repo.GetUnique(ctx, job.DataStandard.String(), model.RowKeyTimestamp)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to read watermark: %w", err)
		}
		c.Watermark = ts.Timestamp
		job.DataStandardTimestamp = ts.Timestamp
		return nil
	})
}

// catalogueNode fetches the candidate product set. A job naming products
// gets exactly those; otherwise the catalogue is asked for changes since
// the watermark.
type catalogueNode struct {
	catalogue Catalogue
	now       func() time.Time
}

func (n *catalogueNode) ID() string { return NodeGetProducts }

func (n *catalogueNode) ShouldExecute(ctx context.Context, c *AssemblyContext) bool {
	return needsContent(ctx, c)
}

func (n *catalogueNode) Execute(ctx context.Context, c *AssemblyContext) error {
	job := c.Job()
	if len(job.RequestedProducts) > 0 {
		return n.productNames(ctx, c)
	}

	res, err := n.catalogue.GetProductsSince(ctx, job.DataStandard, c.Watermark)
	if err != nil {
		return fmt.Errorf("failed to query catalogue: %w", err)
	}
	switch res.Status {
	case client.CatalogueNotModified:
		return c.SignalNoChanges(fmt.Sprintf("no %s changes since %s", job.DataStandard, c.Watermark.Format(time.RFC3339)))
	case client.CatalogueOK:
	default:
		return fmt.Errorf("catalogue returned status %s", res.Status)
	}

	job.Products = res.Products
	job.ProductsLastModified = res.LastModified
	if job.ProductsLastModified.IsZero() {
		job.ProductsLastModified = latestChange(res.Products, n.now())
	}
	return nil
}

// latestChange is the newest product change, or fallback when no product
// carries one
func latestChange(products []model.Product, fallback time.Time) time.Time {
	var latest time.Time
	for _, p := range products {
		if p.LastModified.After(latest) {
			latest = p.LastModified
		}
	}
	if latest.IsZero() {
		return fallback.UTC()
	}
	return latest.UTC()
}

func (n *catalogueNode) productNames(ctx context.Context, c *AssemblyContext) error {
	job := c.Job()
	res, err := n.catalogue.GetProductNames(ctx, job.DataStandard, job.RequestedProducts)
	if err != nil {
		return fmt.Errorf("failed to query catalogue: %w", err)
	}
	for _, missing := range res.CountSummary.RequestedProductsNotReturned {
		c.Logger.Warn("requested product not returned",
			zap.String("product", missing.ProductName),
			zap.String("reason", missing.Reason),
		)
	}
	job.Products = res.Products
	// a selection never moves the watermark
	job.ProductsLastModified = c.Watermark
	return nil
}

// filter returns the products worth building
type filter func(c *AssemblyContext, products []model.Product) []model.Product

type filterNode struct {
	filter filter
}

func (n *filterNode) ID() string { return NodeFilterProducts }

func (n *filterNode) ShouldExecute(ctx context.Context, c *AssemblyContext) bool {
	return needsContent(ctx, c)
}

func (n *filterNode) Execute(_ context.Context, c *AssemblyContext) error {
	job := c.Job()
	job.Products = n.filter(c, job.Products)
	if len(job.Products) == 0 {
		return c.SignalNoChanges("no products to build after filtering")
	}
	return c.SignalBuildRequired()
}

func createBatch(batches BatchStore) assemblyNode {
	return pipeline.NewFunc(NodeCreateBatch, func(ctx context.Context, c *AssemblyContext) error {
		job := c.Job()
		batchID, err := batches.CreateBatch(ctx, job.CorrelationID, job.DataStandard)
		if err != nil {
			if serr := c.SignalAssemblyError(fmt.Sprintf("failed to stage batch: %v", err)); serr != nil {
				return errors.Join(err, serr)
			}
			return err
		}
		return c.SetBatchID(batchID)
	}).When(func(_ context.Context, c *AssemblyContext) bool {
		job := c.Job()
		return job.BuildState == model.BuildStateNotScheduled && job.BatchID == "" && !job.JobState.IsTerminal()
	})
}

func addProductManifest(batches BatchStore, manifestName string) assemblyNode {
	return pipeline.NewFunc(NodeAddProductManifest, func(ctx context.Context, c *AssemblyContext) error {
		job := c.Job()
		data, err := json.Marshal(job.Products)
		if err != nil {
			return fmt.Errorf("failed to marshal product manifest: %w", err)
		}
		return batches.AddFileToBatch(ctx, job.BatchID, bytes.NewReader(data), manifestName, "application/json")
	}).When(func(_ context.Context, c *AssemblyContext) bool {
		job := c.Job()
		return job.BatchID != "" && job.BuildState == model.BuildStateNotScheduled && !c.AssemblyFailed()
	})
}

func persistAssembly(stores *repository.Stores, now func() time.Time) assemblyNode {
	return pipeline.NewFunc(NodePersistJob, func(ctx context.Context, c *AssemblyContext) error {
		job := c.Job()
		if err := stores.Jobs.Upsert(ctx, *job); err != nil {
			return fmt.Errorf("failed to persist job: %w", err)
		}
		c.announce()

		if err := stores.BuildStatuses.Add(ctx, model.NewBuildStatus(job, now())); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			return fmt.Errorf("failed to persist build status: %w", err)
		}
		if job.BuildState == model.BuildStateNone {
			return nil
		}

		build := model.Build{JobID: job.ID, BatchID: job.BatchID, Statuses: []model.NodeStatus{}, Logs: []string{}}
		if err := stores.Builds.Add(ctx, build); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			return fmt.Errorf("failed to persist build: %w", err)
		}
		return nil
	}).When(func(_ context.Context, c *AssemblyContext) bool {
		return !c.AssemblyFailed()
	})
}

// buildParams adds the standard specific fields to a build request
type buildParams func(job *model.Job, req *model.BuildRequest)

func scheduleBuild(q queue.Queue, jobs repository.Repository[model.Job], params buildParams, now func() time.Time) assemblyNode {
	return pipeline.NewFunc(NodeScheduleBuild, func(ctx context.Context, c *AssemblyContext) error {
		job := c.Job()
		req := model.BuildRequest{
			Version:      model.MessageVersion,
			Timestamp:    now().UTC(),
			JobID:        job.ID,
			BatchID:      job.BatchID,
			DataStandard: job.DataStandard,
		}
		if params != nil {
			params(job, &req)
		}

		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal build request: %w", err)
		}
		if err := q.Enqueue(ctx, string(data)); err != nil {
			return fmt.Errorf("failed to enqueue build request: %w", err)
		}
		c.BuildRequest = &req

		if err := c.SignalBuildScheduled(); err != nil {
			return err
		}
		if err := jobs.Upsert(ctx, *job); err != nil {
			return fmt.Errorf("failed to persist scheduled job: %w", err)
		}
		c.announce()
		return nil
	}).When(func(_ context.Context, c *AssemblyContext) bool {
		job := c.Job()
		return job.JobState == model.JobStateCreated &&
			job.BuildState == model.BuildStateNotScheduled &&
			job.BatchID != ""
	})
}

// expandNameTemplate replaces {date} with the build date
func expandNameTemplate(template string, at time.Time) string {
	return strings.ReplaceAll(template, "{date}", at.UTC().Format("20060102"))
}
