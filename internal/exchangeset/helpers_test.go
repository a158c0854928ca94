package exchangeset

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exchangeset/orchestrator/internal/client"
	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/repository"
)

var (
	testNow          = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	testLastModified = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
)

type fakeCatalogue struct {
	mu         sync.Mutex
	since      *client.ProductsSinceResult
	sinceErr   error
	names      *client.ProductNamesResult
	sinceCalls int
	nameCalls  int
	lastSince  time.Time
}

func (f *fakeCatalogue) GetProductsSince(_ context.Context, _ model.DataStandard, since time.Time) (*client.ProductsSinceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceCalls++
	f.lastSince = since
	if f.sinceErr != nil {
		return &client.ProductsSinceResult{Status: client.CatalogueError}, f.sinceErr
	}
	return f.since, nil
}

func (f *fakeCatalogue) GetProductNames(_ context.Context, _ model.DataStandard, _ []string) (*client.ProductNamesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls++
	return f.names, nil
}

type fakeBatches struct {
	mu        sync.Mutex
	createErr error
	commitErr error
	created   []string
	files     map[string][]byte
	commits   []string
	searches  int
	previous  []string
	expired   []string
	expiry    time.Time
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{files: map[string][]byte{}}
}

func (f *fakeBatches) CreateBatch(_ context.Context, _ string, _ model.DataStandard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "B1"
	if len(f.created) > 0 {
		id = "B" + string(rune('1'+len(f.created)))
	}
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeBatches) AddFileToBatch(_ context.Context, batchID string, content io.Reader, name, _ string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[batchID+"/"+name] = data
	return nil
}

func (f *fakeBatches) CommitBatch(_ context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, batchID)
	return nil
}

func (f *fakeBatches) SearchCommittedBatches(_ context.Context, _ model.DataStandard, exclude string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	var out []string
	for _, id := range f.previous {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeBatches) SetExpiryDate(_ context.Context, ids []string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, ids...)
	f.expiry = expiry
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []model.JobState
}

func (n *recordingNotifier) JobStateChanged(job model.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, job.JobState)
}

func (n *recordingNotifier) seen() []model.JobState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.JobState(nil), n.states...)
}

// flakyQueue fails Enqueue while err is set
type flakyQueue struct {
	*queue.MemoryQueue
	mu  sync.Mutex
	err error
}

func (q *flakyQueue) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

func (q *flakyQueue) Enqueue(ctx context.Context, text string) error {
	q.mu.Lock()
	err := q.err
	q.mu.Unlock()
	if err != nil {
		return err
	}
	return q.MemoryQueue.Enqueue(ctx, text)
}

type fixture struct {
	factory   *Factory
	stores    *repository.Stores
	catalogue *fakeCatalogue
	batches   *fakeBatches
	queues    map[model.DataStandard]*queue.MemoryQueue
	requests  map[model.DataStandard]queue.Queue
	collector *pipeline.MemoryCollector
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		stores: repository.NewMemoryStores(),
		catalogue: &fakeCatalogue{since: &client.ProductsSinceResult{
			Status:       client.CatalogueOK,
			LastModified: testLastModified,
			Products: []model.Product{
				{Name: "gb100001", Edition: 2, Update: 0},
				{Name: "GB100001", Edition: 2, Update: 3},
				{Name: "GB200002", Edition: 1, Update: 0},
			},
		}},
		batches:   newFakeBatches(),
		queues:    map[model.DataStandard]*queue.MemoryQueue{},
		collector: pipeline.NewMemoryCollector(),
		notifier:  &recordingNotifier{},
	}

	fx.requests = map[model.DataStandard]queue.Queue{}
	for _, std := range model.ValidDataStandards {
		q := queue.NewMemoryQueue(std.String()+"-build-requests", time.Hour)
		fx.queues[std] = q
		fx.requests[std] = q
	}
	fx.build(t)
	return fx
}

// withFlakyQueue rebuilds the factory with a failing-capable build request
// queue for std
func (fx *fixture) withFlakyQueue(t *testing.T, std model.DataStandard) *flakyQueue {
	t.Helper()
	q := &flakyQueue{MemoryQueue: fx.queues[std]}
	fx.requests[std] = q
	fx.build(t)
	return q
}

func (fx *fixture) build(t *testing.T) {
	t.Helper()
	factory, err := NewFactory(Dependencies{
		Stores:        fx.stores,
		Catalogue:     fx.catalogue,
		Batches:       fx.batches,
		BuildRequests: fx.requests,
		Standards: config.StandardsConfig{
			S100WorkspaceKey:          "workspace-key",
			S100ProductSpecifications: []string{"101", "102"},
			S63NameTemplate:           "V01X01_{date}",
			S57NameTemplate:           "S57_{date}",
		},
		ExpiryPeriod: time.Hour,
		Notifier:     fx.notifier,
	}, fx.collector, nil, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	fx.factory = factory
}

func (fx *fixture) assemble(t *testing.T, job *model.Job) (*AssemblyContext, pipeline.Result) {
	t.Helper()
	p, err := fx.factory.Assembly(job.DataStandard)
	require.NoError(t, err)
	c := fx.factory.NewAssemblyContext(job)
	result, err := p.Run(context.Background(), c)
	require.NoError(t, err)
	return c, result
}

func (fx *fixture) complete(t *testing.T, std model.DataStandard, resp model.BuildResponse) (*CompletionContext, pipeline.Result) {
	t.Helper()
	p, err := fx.factory.Completion(std)
	require.NoError(t, err)
	c := fx.factory.NewCompletionContext(resp)
	result, err := p.Run(context.Background(), c)
	require.NoError(t, err)
	return c, result
}

func (fx *fixture) job(t *testing.T, id string) model.Job {
	t.Helper()
	job, err := fx.stores.Jobs.GetUnique(context.Background(), id, model.RowKeyJob)
	require.NoError(t, err)
	return job
}

func (fx *fixture) mementos(t *testing.T, id string) []model.BuildMemento {
	t.Helper()
	list, err := fx.stores.Mementos.List(context.Background(), id)
	require.NoError(t, err)
	return list
}

var errUnavailable = errors.New("service unavailable")
