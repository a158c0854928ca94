package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/exchangeset/orchestrator/internal/auth"
	"github.com/exchangeset/orchestrator/internal/client"
	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/exchangeset"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/repository"
	"github.com/exchangeset/orchestrator/internal/retry"
	"github.com/exchangeset/orchestrator/internal/server"
	"github.com/exchangeset/orchestrator/internal/service"
	"github.com/exchangeset/orchestrator/internal/websocket"
	"github.com/exchangeset/orchestrator/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

var catalogueLastModified = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// fileShare is an in-process stand-in for the file share service
type fileShare struct {
	mu       sync.Mutex
	files    map[string][]byte
	commits  []string
	expiries map[string]time.Time
	previous []string
}

func (f *fileShare) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/batch")
	switch {
	case r.Method == http.MethodPost && path == "":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"batchId":"B-1"}`))
	case r.Method == http.MethodGet && path == "":
		entries := make([]map[string]string, 0, len(f.previous)+1)
		for _, id := range append([]string{"B-1"}, f.previous...) {
			entries = append(entries, map[string]string{"batchId": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"entries": entries})
	case r.Method == http.MethodPut && strings.Contains(path, "/files/"):
		data, _ := io.ReadAll(r.Body)
		f.files[path] = data
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut && strings.HasSuffix(path, "/expiry"):
		var body struct {
			ExpiryDate time.Time `json:"expiryDate"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.expiries[strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/expiry")] = body.ExpiryDate
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPut:
		f.commits = append(f.commits, strings.TrimPrefix(path, "/"))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fileShare) committed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commits...)
}

func (f *fileShare) expiry(batchID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.expiries[batchID]
	return t, ok
}

type testEnv struct {
	app       *fiber.App
	stores    *repository.Stores
	redis     *redis.Client
	fileShare *fileShare
	cfg       *config.Config
}

// setupEnv wires the orchestrator the way cmd/server does, backed by an in
// memory redis and fake catalogue and file share services.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalogue := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", catalogueLastModified.Format(http.TimeFormat))
		if since, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil && !since.Before(catalogueLastModified) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte(`{"products":[{"name":"GB100001","edition":3,"update":1},{"name":"GB100001","edition":3,"update":0}]}`))
	}))
	t.Cleanup(catalogue.Close)

	fs := &fileShare{files: map[string][]byte{}, expiries: map[string]time.Time{}, previous: []string{"OLD-1"}}
	fsServer := httptest.NewServer(fs)
	t.Cleanup(fsServer.Close)

	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: "info"},
		Redis:     config.RedisConfig{KeyPrefix: "e2e"},
		Queues:    config.QueueConfig{BatchSize: 4, PollInterval: 10 * time.Millisecond, VisibilityTimeout: time.Minute, JobRequestQueue: "job-requests"},
		Catalogue: config.CatalogueConfig{BaseURL: catalogue.URL, Timeout: 5 * time.Second},
		FileShare: config.FileShareConfig{BaseURL: fsServer.URL, Timeout: 5 * time.Second, BusinessUnit: "ADDS", ExpiryPeriod: time.Hour, ManifestName: "products.json"},
		Standards: config.StandardsConfig{S57NameTemplate: "S57_{date}", S63NameTemplate: "V01X01_{date}"},
		RateLimit: config.RateLimitConfig{SubmitPerHour: 10000},
	}

	stores := repository.NewRedisStores(rdb, cfg.Redis.KeyPrefix)
	newQueue := func(name string) queue.Queue {
		return queue.NewRedisQueue(rdb, cfg.Redis.KeyPrefix, name, cfg.Queues.VisibilityTimeout)
	}
	buildRequests := map[model.DataStandard]queue.Queue{}
	for _, std := range model.ValidDataStandards {
		buildRequests[std] = newQueue(cfg.Queues.BuildRequestQueue(std.String()))
	}
	jobRequests := newQueue(cfg.Queues.JobRequestQueue)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	policy := retry.NewPolicy(time.Millisecond, 1, nil)
	factory, err := exchangeset.NewFactory(exchangeset.Dependencies{
		Stores:        stores,
		Catalogue:     client.NewCatalogueClient(&cfg.Catalogue, policy),
		Batches:       client.NewFileShareClient(&cfg.FileShare, policy),
		BuildRequests: buildRequests,
		Standards:     cfg.Standards,
		ManifestName:  cfg.FileShare.ManifestName,
		ExpiryPeriod:  cfg.FileShare.ExpiryPeriod,
		Notifier:      hub,
	}, pipeline.NewMemoryCollector(), nil)
	require.NoError(t, err)
	svc := service.NewExchangeSetService(factory, stores, jobRequests, nil)

	var wg sync.WaitGroup
	t.Cleanup(wg.Wait)
	t.Cleanup(cancel)
	start := func(r interface{ Run(context.Context) }) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}
	start(queue.NewMonitor[model.JobRequest](jobRequests, worker.NewJobRequestProcessor(svc, nil), cfg.Queues.BatchSize, cfg.Queues.PollInterval, nil))
	for _, std := range model.ValidDataStandards {
		responses := newQueue(cfg.Queues.BuildResponseQueue(std.String()))
		start(queue.NewMonitor[model.BuildResponse](responses, worker.NewBuildResponseProcessor(svc, std, nil), cfg.Queues.BatchSize, cfg.Queues.PollInterval, nil))
	}

	app := server.NewApp(server.Deps{
		Config:   cfg,
		Service:  svc,
		Hub:      hub,
		Verifier: auth.NewHMACVerifier(testJWTSecret),
		Redis:    rdb,
	})

	return &testEnv{app: app, stores: stores, redis: rdb, fileShare: fs, cfg: cfg}
}

func (e *testEnv) queue(name string) *queue.RedisQueue {
	return queue.NewRedisQueue(e.redis, e.cfg.Redis.KeyPrefix, name, e.cfg.Queues.VisibilityTimeout)
}

func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewHMACVerifier(testJWTSecret).Issue("test-user-123", time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	require.NoError(t, err)
	return resp
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// jobState polls the API for a job's state
func (e *testEnv) jobState(t *testing.T, jobID string) string {
	t.Helper()
	resp := doAuthRequest(t, e.app, http.MethodGet, "/api/jobs/"+jobID, "")
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return ""
	}
	state, _ := parseJSON(t, resp)["jobState"].(string)
	return state
}
