package exchangeset

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/repository"
)

// Dependencies are the collaborators shared by every pipeline
type Dependencies struct {
	Stores        *repository.Stores
	Catalogue     Catalogue
	Batches       BatchStore
	BuildRequests map[model.DataStandard]queue.Queue
	Standards     config.StandardsConfig
	ManifestName  string
	ExpiryPeriod  time.Duration
	Notifier      Notifier
}

// Factory builds the per-standard pipelines. Standards differ only in the
// catalogue, filter and build parameter pieces chosen here.
type Factory struct {
	deps      Dependencies
	collector pipeline.Collector
	sequence  *pipeline.Sequence
	logger    *zap.Logger
	now       func() time.Time

	assembly   map[model.DataStandard]*pipeline.Composite[*AssemblyContext]
	completion map[model.DataStandard]*pipeline.Composite[*CompletionContext]
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithClock replaces time.Now
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// WithSequence shares a telemetry sequence with other components
func WithSequence(seq *pipeline.Sequence) FactoryOption {
	return func(f *Factory) { f.sequence = seq }
}

func NewFactory(deps Dependencies, collector pipeline.Collector, logger *zap.Logger, opts ...FactoryOption) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.ManifestName == "" {
		deps.ManifestName = "products.json"
	}
	f := &Factory{
		deps:       deps,
		collector:  collector,
		sequence:   pipeline.NewSequence(),
		logger:     logger.Named("exchangeset"),
		now:        time.Now,
		assembly:   make(map[model.DataStandard]*pipeline.Composite[*AssemblyContext]),
		completion: make(map[model.DataStandard]*pipeline.Composite[*CompletionContext]),
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, std := range model.ValidDataStandards {
		q, ok := deps.BuildRequests[std]
		if !ok {
			return nil, fmt.Errorf("no build request queue for %s", std)
		}
		f.assembly[std] = f.newAssembly(std, q)
		f.completion[std] = f.newCompletion(std)
	}
	return f, nil
}

func (f *Factory) options(extra ...pipeline.Option) []pipeline.Option {
	opts := []pipeline.Option{pipeline.WithSequence(f.sequence)}
	if f.collector != nil {
		opts = append(opts, pipeline.WithCollector(f.collector))
	}
	return append(opts, extra...)
}

func (f *Factory) newAssembly(std model.DataStandard, q queue.Queue) *pipeline.Composite[*AssemblyContext] {
	var (
		filterFn filter
		params   buildParams
	)
	switch std {
	case model.DataStandardS100:
		filterFn = s100Filter(f.deps.Standards.S100ProductSpecifications)
		params = s100Params(f.deps.Standards)
	case model.DataStandardS63:
		filterFn = cellFilter()
		params = namedParams(f.deps.Standards.S63NameTemplate)
	case model.DataStandardS57:
		filterFn = cellFilter()
		params = namedParams(f.deps.Standards.S57NameTemplate)
	}

	stores := f.deps.Stores
	return pipeline.New[*AssemblyContext](fmt.Sprintf("%s-assembly", std), []pipeline.Node[*AssemblyContext]{
		getDataStandardTimestamp(stores.Timestamps),
		&catalogueNode{catalogue: f.deps.Catalogue, now: f.now},
		&filterNode{filter: filterFn},
		createBatch(f.deps.Batches),
		addProductManifest(f.deps.Batches, f.deps.ManifestName),
		persistAssembly(stores, f.now),
		scheduleBuild(q, stores.Jobs, params, f.now),
	}, f.options()...)
}

func (f *Factory) newCompletion(std model.DataStandard) *pipeline.Composite[*CompletionContext] {
	stores := f.deps.Stores

	lookup := pipeline.New[*CompletionContext](NodeLookup, []pipeline.Node[*CompletionContext]{
		getJob(stores.Jobs),
		getBuildStatus(stores.BuildStatuses),
		getBuild(stores.Builds),
	}, f.options()...)

	publish := pipeline.New[*CompletionContext](NodePublish, []pipeline.Node[*CompletionContext]{
		commitBatch(f.deps.Batches),
		expirePreviousBatches(f.deps.Batches, f.deps.ExpiryPeriod, f.now),
		advanceWatermark(stores.Timestamps),
	}, f.options()...).When(func(_ context.Context, c *CompletionContext) bool {
		return c.Job().BatchID != "" && c.ExitCode() == model.ExitCodeSuccess
	})

	finalise := pipeline.New[*CompletionContext](NodeFinalise, []pipeline.Node[*CompletionContext]{
		publish,
		replayBuildLogs(),
		updateBuildStatus(stores.BuildStatuses, f.now),
		recordBuildMemento(stores.Mementos, f.now),
		signalBuildFailure(),
		signalCompleted(),
		persistCompletedJob(stores.Jobs),
	}, f.options(pipeline.ContinueOnFailure())...).When(func(_ context.Context, c *CompletionContext) bool {
		if c.AlreadyFinalised {
			c.Logger.Info("job already finalised, skipping completion", zap.String("job_state", string(c.Job().JobState)))
			return false
		}
		return true
	})

	return pipeline.New[*CompletionContext](fmt.Sprintf("%s-completion", std), []pipeline.Node[*CompletionContext]{
		lookup,
		finalise,
	}, f.options()...)
}

// Assembly returns the assembly pipeline of a standard
func (f *Factory) Assembly(std model.DataStandard) (*pipeline.Composite[*AssemblyContext], error) {
	p, ok := f.assembly[std]
	if !ok {
		return nil, fmt.Errorf("unsupported data standard %q", std)
	}
	return p, nil
}

// Completion returns the completion pipeline of a standard
func (f *Factory) Completion(std model.DataStandard) (*pipeline.Composite[*CompletionContext], error) {
	p, ok := f.completion[std]
	if !ok {
		return nil, fmt.Errorf("unsupported data standard %q", std)
	}
	return p, nil
}

// NewAssemblyContext prepares an assembly run for job
func (f *Factory) NewAssemblyContext(job *model.Job) *AssemblyContext {
	return &AssemblyContext{
		State:  newState(job, f.deps.Notifier, f.now),
		Logger: f.logger.With(zap.String("job_id", job.ID), zap.String("data_standard", job.DataStandard.String())),
	}
}

// NewCompletionContext prepares a completion run for a builder response
func (f *Factory) NewCompletionContext(resp model.BuildResponse) *CompletionContext {
	return &CompletionContext{
		State:    newState(nil, f.deps.Notifier, f.now),
		Response: resp,
		Logger:   f.logger.With(zap.String("job_id", resp.JobID), zap.String("exit_code", string(resp.ExitCode))),
	}
}

// Sequence returns the telemetry sequence shared by this factory's pipelines
func (f *Factory) Sequence() *pipeline.Sequence {
	return f.sequence
}

// NodeStatuses flattens a pipeline result into persisted node statuses
func NodeStatuses(result pipeline.Result) []model.NodeStatus {
	leaves := result.Leaves()
	out := make([]model.NodeStatus, 0, len(leaves))
	for _, r := range leaves {
		s := model.NodeStatus{
			Sequence:  r.Sequence,
			NodeID:    r.NodeID,
			Status:    model.NodeResultStatus(r.Status),
			ElapsedMs: r.Elapsed.Milliseconds(),
		}
		if r.Err != nil {
			s.ErrorMessage = r.Err.Error()
		}
		out = append(out, s)
	}
	return out
}
