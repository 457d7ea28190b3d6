// Package bootstrap wires the segment stitcher from its configuration.
package bootstrap

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/panjf2000/ants/v2"

	"github.com/maauso/segment-stitcher/internal/config"
	"github.com/maauso/segment-stitcher/internal/credential"
	"github.com/maauso/segment-stitcher/internal/fetch"
	"github.com/maauso/segment-stitcher/internal/generator"
	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/media"
	"github.com/maauso/segment-stitcher/internal/merge"
	"github.com/maauso/segment-stitcher/internal/pipeline"
	"github.com/maauso/segment-stitcher/internal/poller"
	"github.com/maauso/segment-stitcher/internal/retry"
	"github.com/maauso/segment-stitcher/internal/scheduler"
	"github.com/maauso/segment-stitcher/internal/storage"
	"github.com/maauso/segment-stitcher/internal/submit"
	"github.com/maauso/segment-stitcher/internal/taskqueue"
	"github.com/maauso/segment-stitcher/internal/videogen"
)

// Dependencies holds all initialized dependencies for the binaries.
type Dependencies struct {
	Service *pipeline.Service
	Tokens  *credential.Cache

	pool *ants.Pool
}

// Close releases the poller pool.
func (d *Dependencies) Close() {
	if d.pool != nil {
		d.pool.Release()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens := initCredentials(cfg, logger)

	gen, err := initGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	backoff := retry.Policy{
		MaxAttempts: cfg.MaxSubmissionRetries,
		Base:        cfg.BackoffBase,
		Cap:         cfg.BackoffCap,
		Jitter:      cfg.BackoffJitter,
	}

	submitter := submit.NewClient(gen, tokens, submit.Config{
		Policy:         backoff,
		AttemptTimeout: cfg.SubmitAttemptTimeout,
	}, submit.WithLogger(logger))

	runner := poller.NewPoller(gen, submitter, tokens, poller.Config{
		InitialDelay:     cfg.InitialPollDelay,
		Interval:         cfg.PollInterval,
		MaxAttempts:      cfg.MaxPollAttempts,
		MaxResubmissions: cfg.MaxResubmissions,
	}, poller.WithLogger(logger))

	downloadPolicy := backoff
	downloadPolicy.MaxAttempts = cfg.DownloadRetries
	fetcher := fetch.NewFetcher(store, downloadPolicy, fetch.WithLogger(logger))

	// Pollers run detached on a bounded pool; a panic in one never takes
	// down the process.
	pool, err := ants.NewPool(cfg.PollerPoolSize, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("poller panicked", slog.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create poller pool: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.Config{
		ConcurrencyCap: cfg.ConcurrencyCap,
		StaggerDelay:   cfg.StaggerDelay,
		Optimized:      cfg.OptimizedMode,
	}, submitter, runner, pool,
		scheduler.WithLogger(logger),
		scheduler.WithFetcher(fetcher),
	)

	engine := merge.NewEngine(media.NewFFmpegProcessor(cfg.FFmpegPath), cfg.OutputDir, merge.WithLogger(logger))

	svc := pipeline.NewService(
		job.NewMemoryRepository(),
		tokens,
		sched,
		engine,
		store,
		logger,
		pipeline.WithS3(cfg.S3Enabled()),
		pipeline.WithSegmentCleanup(cfg.CleanupSegments),
	)

	return &Dependencies{
		Service: svc,
		Tokens:  tokens,
		pool:    pool,
	}, nil
}

// initGenerator creates the client of the configured generation backend.
func initGenerator(cfg *config.Config, logger *slog.Logger) (generator.Generator, error) {
	policy := generator.NewPolicyClassifier(cfg.PolicyErrorCodes)

	if strings.EqualFold(cfg.Backend, config.BackendTaskQueue) {
		client, err := taskqueue.NewClient(cfg.QueueURL, cfg.QueueStatusURL,
			taskqueue.WithModel(cfg.Model),
			taskqueue.WithPolicyClassifier(policy),
		)
		if err != nil {
			return nil, fmt.Errorf("create task queue client: %w", err)
		}
		logger.Info("task queue backend configured", slog.String("queue_url", cfg.QueueURL))
		return client, nil
	}

	client, err := videogen.NewClient(cfg.BaseURL,
		videogen.WithModel(cfg.Model),
		videogen.WithPolicyClassifier(policy),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation client: %w", err)
	}
	logger.Info("videogen backend configured", slog.String("base_url", cfg.BaseURL))
	return client, nil
}

// initCredentials orders the token sources: override, remote, then file.
// A token obtained remotely is written back to the file source.
func initCredentials(cfg *config.Config, logger *slog.Logger) *credential.Cache {
	var sources []credential.Source
	if cfg.TokenOverride != "" {
		sources = append(sources, credential.NewStatic(cfg.TokenOverride))
	}
	if cfg.TokenURL != "" {
		sources = append(sources, credential.NewRemote(cfg.TokenURL, nil))
	}

	opts := []credential.Option{credential.WithLogger(logger)}
	if cfg.TokenFile != "" {
		file := credential.NewFile(cfg.TokenFile)
		sources = append(sources, file)
		opts = append(opts, credential.WithPersister(file))
	}

	logger.Info("credential sources configured",
		slog.Int("sources", len(sources)),
		slog.Duration("ttl", cfg.TokenTTL),
	)
	return credential.NewCache(cfg.TokenTTL, sources, opts...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
