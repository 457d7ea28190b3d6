// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrBaseURLRequired is returned when VIDEOGEN_BASE_URL is not set for the videogen backend.
	ErrBaseURLRequired = errors.New("config: VIDEOGEN_BASE_URL is required")
	// ErrQueueURLRequired is returned when TASKQUEUE_URL is not set for the taskqueue backend.
	ErrQueueURLRequired = errors.New("config: TASKQUEUE_URL is required")
	// ErrUnknownBackend is returned when GENERATOR_BACKEND names no known backend.
	ErrUnknownBackend = errors.New("config: GENERATOR_BACKEND must be videogen or taskqueue")
	// ErrNoTokenSource is returned when none of TOKEN_OVERRIDE, TOKEN_URL or TOKEN_FILE is set.
	ErrNoTokenSource = errors.New("config: one of TOKEN_OVERRIDE, TOKEN_URL or TOKEN_FILE is required")
	// ErrInvalidConcurrency is returned when CONCURRENCY_CAP is below 1.
	ErrInvalidConcurrency = errors.New("config: CONCURRENCY_CAP must be at least 1")
	// ErrInvalidAttempts is returned when an attempt budget is below 1.
	ErrInvalidAttempts = errors.New("config: attempt budgets must be at least 1")
	// ErrInvalidBackoff is returned when BACKOFF_BASE exceeds BACKOFF_CAP.
	ErrInvalidBackoff = errors.New("config: BACKOFF_BASE must not exceed BACKOFF_CAP")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Generation service
	Backend        string `env:"GENERATOR_BACKEND, default=videogen" json:"generator_backend"` // "videogen" or "taskqueue"
	BaseURL        string `env:"VIDEOGEN_BASE_URL" json:"videogen_base_url,omitempty"`
	Model          string `env:"VIDEOGEN_MODEL" json:"videogen_model,omitempty"`
	QueueURL       string `env:"TASKQUEUE_URL" json:"taskqueue_url,omitempty"`
	QueueStatusURL string `env:"TASKQUEUE_STATUS_URL, default=https://api.beam.cloud/v2/task" json:"taskqueue_status_url"`

	// Credential sources, tried in this order
	TokenOverride string        `env:"TOKEN_OVERRIDE" json:"-"` // Masked in JSON
	TokenURL      string        `env:"TOKEN_URL" json:"token_url,omitempty"`
	TokenFile     string        `env:"TOKEN_FILE" json:"token_file,omitempty"`
	TokenTTL      time.Duration `env:"TOKEN_TTL, default=50m" json:"token_ttl"`

	// Scheduling
	ConcurrencyCap int           `env:"CONCURRENCY_CAP, default=5" json:"concurrency_cap"`
	StaggerDelay   time.Duration `env:"STAGGER_DELAY, default=100ms" json:"stagger_delay"`
	OptimizedMode  bool          `env:"OPTIMIZED_MODE, default=true" json:"optimized_mode"`
	PollerPoolSize int           `env:"POLLER_POOL_SIZE, default=64" json:"poller_pool_size"`

	// Polling
	PollInterval     time.Duration `env:"POLL_INTERVAL, default=6s" json:"poll_interval"`
	InitialPollDelay time.Duration `env:"INITIAL_POLL_DELAY, default=45s" json:"initial_poll_delay"`
	MaxPollAttempts  int           `env:"MAX_POLL_ATTEMPTS, default=60" json:"max_poll_attempts"`

	// Submission
	MaxSubmissionRetries int           `env:"MAX_SUBMISSION_RETRIES, default=8" json:"max_submission_retries"`
	SubmitAttemptTimeout time.Duration `env:"SUBMIT_ATTEMPT_TIMEOUT, default=60s" json:"submit_attempt_timeout"`
	MaxResubmissions     int           `env:"MAX_RESUBMISSIONS, default=2" json:"max_resubmissions"`

	// Backoff shared by submission and download retries
	BackoffBase   time.Duration `env:"BACKOFF_BASE, default=1s" json:"backoff_base"`
	BackoffCap    time.Duration `env:"BACKOFF_CAP, default=30s" json:"backoff_cap"`
	BackoffJitter time.Duration `env:"BACKOFF_JITTER, default=500ms" json:"backoff_jitter"`

	// Downloads and merge
	DownloadRetries  int      `env:"DOWNLOAD_RETRIES, default=3" json:"download_retries"`
	PolicyErrorCodes []string `env:"POLICY_ERROR_CODES" json:"policy_error_codes,omitempty"`
	SegmentLength    float64  `env:"SEGMENT_LENGTH_SEC, default=8" json:"segment_length_sec"`
	FFmpegPath       string   `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	CleanupSegments  bool     `env:"CLEANUP_SEGMENTS, default=false" json:"cleanup_segments"`

	// Storage settings
	TempDir   string `env:"TEMP_DIR, default=/tmp/segment-stitcher" json:"temp_dir"`
	OutputDir string `env:"OUTPUT_DIR, default=/tmp/segment-stitcher/out" json:"output_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Generator backends.
const (
	BackendVideogen  = "videogen"
	BackendTaskQueue = "taskqueue"
)

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and cross-field rules.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendVideogen, "":
		if c.BaseURL == "" {
			return ErrBaseURLRequired
		}
	case BackendTaskQueue:
		if c.QueueURL == "" {
			return ErrQueueURLRequired
		}
	default:
		return ErrUnknownBackend
	}
	if c.TokenOverride == "" && c.TokenURL == "" && c.TokenFile == "" {
		return ErrNoTokenSource
	}
	if c.ConcurrencyCap < 1 {
		return ErrInvalidConcurrency
	}
	if c.MaxSubmissionRetries < 1 || c.MaxPollAttempts < 1 || c.DownloadRetries < 1 {
		return ErrInvalidAttempts
	}
	if c.BackoffBase > c.BackoffCap {
		return ErrInvalidBackoff
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

// NewStderrLogger is NewLogger writing to stderr, for binaries that print
// their result on stdout.
func (c *Config) NewStderrLogger() *slog.Logger {
	return c.newLogger(os.Stderr)
}

func (c *Config) newLogger(w *os.File) *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, Backend: %s, BaseURL: %s, QueueURL: %s, Model: %s, TokenOverride: %s, TokenURL: %s, TokenFile: %s, ConcurrencyCap: %d, OptimizedMode: %t, TempDir: %s, OutputDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.Backend,
		c.BaseURL,
		c.QueueURL,
		c.Model,
		mask(c.TokenOverride),
		c.TokenURL,
		c.TokenFile,
		c.ConcurrencyCap,
		c.OptimizedMode,
		c.TempDir,
		c.OutputDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
