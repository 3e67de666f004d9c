package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	cfg := FromEnv()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Pretty)
	assert.Equal(t, 1.0, cfg.Batch.Tolerance)
	assert.Equal(t, 16.0, cfg.Batch.DPI)
	assert.False(t, cfg.Batch.Retain)
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.LockBackoff)
	assert.Equal(t, 120, cfg.Batch.LockRetryMax)
	assert.Equal(t, "batches", cfg.Storage.Prefix)
	assert.Equal(t, "dev_pdfbatcher", cfg.Axiom.Dataset)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.JobMaxAttempts)
	assert.Equal(t, 1, cfg.Worker.SimilarityInflight)
	assert.Equal(t, 5*time.Minute, cfg.Worker.BreakerMaxBackoff)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, cfg.Batch.WorkDir, cfg.Server.FileRoot)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("BATCH_COMPARE_DPI", "32")
	t.Setenv("BATCH_RETAIN_ORIGINAL", "yes")
	t.Setenv("LOCK_RETRY_MAX", "3")
	t.Setenv("LOCK_BACKOFF", "10ms")
	t.Setenv("AWS_S3_PREFIX", "/out/batches/")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("BATCH_FILE_ROOT", "/srv/batches")
	t.Setenv("BATCH_TOLERANCE", "0")

	cfg := FromEnv()

	assert.True(t, cfg.Logging.Pretty)
	assert.Zero(t, cfg.Batch.Tolerance, "explicit zero is kept")
	assert.Equal(t, 32.0, cfg.Batch.DPI)
	assert.True(t, cfg.Batch.Retain)
	assert.Equal(t, 3, cfg.Batch.LockRetryMax)
	assert.Equal(t, 10*time.Millisecond, cfg.Batch.LockBackoff)
	assert.Equal(t, "out/batches", cfg.Storage.Prefix)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "/srv/batches", cfg.Server.FileRoot)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("BATCH_TOLERANCE", "-5")
	t.Setenv("BATCH_COMPARE_DPI", "abc")
	t.Setenv("JOB_TIMEOUT", "soon")

	cfg := FromEnv()

	assert.Equal(t, 1.0, cfg.Batch.Tolerance)
	assert.Equal(t, 16.0, cfg.Batch.DPI)
	assert.Equal(t, 30*time.Minute, cfg.Worker.JobTimeout)
}
