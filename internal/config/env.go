package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// BatchConfig holds defaults for a batching pass.
type BatchConfig struct {
	Tolerance      float64
	DPI            float64
	Retain         bool
	WorkDir        string
	RasterDebugDir string
	ConvertOffice  bool
	ConvertTimeout time.Duration
	LockBackoff    time.Duration
	LockRetryMax   int
}

// StorageConfig defines where written batches are published.
type StorageConfig struct {
	Bucket    string
	Prefix    string
	Password  string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Concurrency    int
	JobTimeout     time.Duration
	JobMaxAttempts int
	RetryBackoff   time.Duration
	// SimilarityInflight caps concurrent similarity passes per process.
	SimilarityInflight int
	// Publish breaker cooldowns
	BreakerBaseBackoff time.Duration
	BreakerMaxBackoff  time.Duration
}

// ServerConfig defines the HTTP surface and metrics export.
type ServerConfig struct {
	Port            string
	RunDispatcher   bool
	MetricsTextfile string
	// FileRoot confines local paths of jobs submitted over HTTP.
	FileRoot string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Batch   BatchConfig
	Storage StorageConfig
	Queue   QueueConfig
	Worker  WorkerConfig
	Server  ServerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfbatcher.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfbatcher",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// Batch defaults
	cfg.Batch = BatchConfig{
		Tolerance:      parseFloat(getEnv("BATCH_TOLERANCE", "1.0"), 1.0),
		DPI:            parseFloat(getEnv("BATCH_COMPARE_DPI", "16"), 16),
		Retain:         parseBool(getEnv("BATCH_RETAIN_ORIGINAL", "false")),
		WorkDir:        getEnv("BATCH_WORK_DIR", os.TempDir()),
		RasterDebugDir: getEnv("RASTER_DEBUG_DIR", ""),
		ConvertOffice:  parseBool(getEnv("CONVERT_OFFICE", "false")),
		ConvertTimeout: parseDuration(getEnv("CONVERT_TIMEOUT", "180s"), 180*time.Second),
		LockBackoff:    parseDuration(getEnv("LOCK_BACKOFF", "500ms"), 500*time.Millisecond),
		LockRetryMax:   parseInt(getEnv("LOCK_RETRY_MAX", "120"), 120),
	}
	if cfg.Batch.Tolerance < 0 {
		cfg.Batch.Tolerance = 1.0
	}
	if cfg.Batch.DPI <= 0 {
		cfg.Batch.DPI = 16
	}

	// Storage defaults (empty bucket disables publishing)
	cfg.Storage = StorageConfig{
		Bucket:    getEnv("AWS_S3_BUCKET", ""),
		Prefix:    strings.Trim(getEnv("AWS_S3_PREFIX", "batches"), "/"),
		Password:  getEnv("OUTPUT_PASSWORD", ""),
		Endpoint:  getEnv("AWS_S3_ENDPOINT", ""),
		AccessKey: getEnv("AWS_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("AWS_S3_SECRET_KEY", ""),
	}

	// Queue defaults
	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:pdf:batches"),
		Group:        getEnv("QUEUE_GROUP", "workers:batchers"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "2s"), 2*time.Second),
	}

	// Worker defaults
	cfg.Worker = WorkerConfig{
		Concurrency:    parseInt(getEnv("WORKER_CONCURRENCY", "1"), 1),
		JobTimeout:     parseDuration(getEnv("JOB_TIMEOUT", "30m"), 30*time.Minute),
		JobMaxAttempts: parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBackoff:   parseDuration(getEnv("JOB_RETRY_BACKOFF", "30s"), 30*time.Second),

		SimilarityInflight: parseInt(getEnv("SIMILARITY_MAX_INFLIGHT", "1"), 1),
		BreakerBaseBackoff: parseDuration(getEnv("PUBLISH_BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:  parseDuration(getEnv("PUBLISH_BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "8080"),
		RunDispatcher:   parseBool(getEnv("RUN_DISPATCHER", "true")),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		FileRoot:        getEnv("BATCH_FILE_ROOT", cfg.Batch.WorkDir),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
