package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangeset/orchestrator/internal/model"
)

func TestHealth(t *testing.T) {
	env := setupEnv(t)

	resp, err := doRequest(env.app, http.MethodGet, "/health", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", parseJSON(t, resp)["status"])
}

func TestSubmit_NoAuth(t *testing.T) {
	env := setupEnv(t)

	resp, err := doRequest(env.app, http.MethodPost, "/api/jobs", `{"dataStandard":"s57"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthVerify(t *testing.T) {
	env := setupEnv(t)

	resp, err := doRequest(env.app, http.MethodGet, "/auth/verify", "", map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-user-123", resp.Header.Get("X-User-Id"))
}

func TestJobLifecycle(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	resp := doAuthRequest(t, env.app, http.MethodPost, "/api/jobs", `{"dataStandard":"s57"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		return env.jobState(t, jobID) == string(model.JobStateSubmitted)
	}, 5*time.Second, 20*time.Millisecond)

	// the builder picks the request up from its queue
	requests := env.queue(env.cfg.Queues.BuildRequestQueue("s57"))
	var buildReq model.BuildRequest
	require.Eventually(t, func() bool {
		msgs, err := requests.Receive(ctx, 1)
		if err != nil || len(msgs) == 0 {
			return false
		}
		return json.Unmarshal([]byte(msgs[0].Text), &buildReq) == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, jobID, buildReq.JobID)
	assert.Equal(t, "B-1", buildReq.BatchID)
	assert.Equal(t, "S57_{date}", buildReq.ExchangeSetNameTemplate)

	data, err := json.Marshal(model.BuildResponse{JobID: jobID, ExitCode: model.ExitCodeSuccess})
	require.NoError(t, err)
	require.NoError(t, env.queue(env.cfg.Queues.BuildResponseQueue("s57")).Enqueue(ctx, string(data)))

	require.Eventually(t, func() bool {
		return env.jobState(t, jobID) == string(model.JobStateCompleted)
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"B-1"}, env.fileShare.committed())
	_, expired := env.fileShare.expiry("OLD-1")
	assert.True(t, expired)
	_, current := env.fileShare.expiry("B-1")
	assert.False(t, current)

	ts, err := env.stores.Timestamps.GetUnique(ctx, "s57", model.RowKeyTimestamp)
	require.NoError(t, err)
	assert.True(t, ts.Timestamp.Equal(catalogueLastModified))

	status := parseJSON(t, doAuthRequest(t, env.app, http.MethodGet, "/api/jobs/"+jobID+"/status", ""))
	assert.Equal(t, string(model.ExitCodeSuccess), status["exitCode"])

	history := parseJSON(t, doAuthRequest(t, env.app, http.MethodGet, "/api/jobs/"+jobID+"/mementos", ""))
	mementos, _ := history["mementos"].([]interface{})
	assert.Len(t, mementos, 1)
}

func TestJobLifecycle_NothingChanged(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.stores.Timestamps.Upsert(ctx, model.DataStandardTimestamp{
		DataStandard: model.DataStandardS57,
		Timestamp:    catalogueLastModified,
	}))

	resp := doAuthRequest(t, env.app, http.MethodPost, "/api/jobs", `{"dataStandard":"s57"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)

	require.Eventually(t, func() bool {
		return env.jobState(t, jobID) == string(model.JobStateCancelled)
	}, 5*time.Second, 20*time.Millisecond)

	assert.Empty(t, env.fileShare.committed())

	resp = doAuthRequest(t, env.app, http.MethodGet, "/api/jobs/"+jobID+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(model.ExitCodeNotRun), parseJSON(t, resp)["exitCode"])
}

func TestGetJob_NotFound(t *testing.T) {
	env := setupEnv(t)

	resp := doAuthRequest(t, env.app, http.MethodGet, "/api/jobs/does-not-exist", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
