package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Queues.Backend)
	assert.Equal(t, 16, cfg.Queues.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Queues.PollInterval)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, []string{"101", "102", "104", "111"}, cfg.Standards.S100ProductSpecifications)
	assert.Equal(t, "s100-build-requests", cfg.Queues.BuildRequestQueue("s100"))
	assert.Equal(t, "s57-build-responses", cfg.Queues.BuildResponseQueue("s57"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_BATCH_SIZE", "3")
	t.Setenv("QUEUE_POLL_INTERVAL", "250ms")
	t.Setenv("RETRY_BASE_DELAY", "10ms")
	t.Setenv("S100_PRODUCT_SPECIFICATIONS", "101,102")
	t.Setenv("SCHEDULER_S63", "0 * * * *")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Queues.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Queues.PollInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, []string{"101", "102"}, cfg.Standards.S100ProductSpecifications)
	assert.Equal(t, "0 * * * *", cfg.Scheduler.Spec("s63"))
}

func TestLoad_SecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("  s3cr3t\n"), 0o600))
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.JWT.Secret)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("FILESHARE_BACKEND", "ftp")

	_, err := Load()
	assert.ErrorContains(t, err, "unsupported file share backend")
}

func TestLoad_S3BackendNeedsBucket(t *testing.T) {
	t.Setenv("FILESHARE_BACKEND", "s3")

	_, err := Load()
	assert.ErrorContains(t, err, "s3 bucket is required")
}
