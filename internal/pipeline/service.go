// Package pipeline runs a batch end to end: credential check, scheduling,
// download, ordered merge and optional publication.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/merge"
	"github.com/maauso/segment-stitcher/internal/poller"
	"github.com/maauso/segment-stitcher/internal/storage"
)

var (
	// ErrBatchAborted is returned when the batch produced no artifact.
	// It wraps the cause: credential.ErrUnavailable or a *merge.Error.
	ErrBatchAborted = errors.New("pipeline: batch aborted")
	// ErrBatchNotRunning is returned when processing a batch that already finished.
	ErrBatchNotRunning = errors.New("pipeline: batch is not running")
)

// TokenSource checks that a credential is available before any work starts.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
}

// BatchRunner schedules the segments of a batch.
type BatchRunner interface {
	Run(ctx context.Context, segments []*job.Segment, pending *job.PendingTable, onResult func(poller.Result)) []poller.Result
}

// Merger produces the final artifact.
type Merger interface {
	Merge(ctx context.Context, in merge.Input) (*merge.Output, error)
}

// Outcome is the structured result of a batch.
type Outcome struct {
	// Batch is a snapshot with per-segment status.
	Batch *job.Batch
	// Manifest is nil when the batch was aborted.
	Manifest *job.Manifest
}

// Service orchestrates batches.
type Service struct {
	repo      job.Repository
	tokens    TokenSource
	runner    BatchRunner
	merger    Merger
	store     storage.Storage
	validator *validator.Validate
	logger    *slog.Logger

	s3Enabled       bool
	cleanupSegments bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithS3 enables publication for batches that request it.
func WithS3(enabled bool) ServiceOption {
	return func(s *Service) {
		s.s3Enabled = enabled
	}
}

// WithSegmentCleanup removes downloaded segments once they are merged.
func WithSegmentCleanup(enabled bool) ServiceOption {
	return func(s *Service) {
		s.cleanupSegments = enabled
	}
}

// NewService creates a Service.
func NewService(
	repo job.Repository,
	tokens TokenSource,
	runner BatchRunner,
	merger Merger,
	store storage.Storage,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		tokens:    tokens,
		runner:    runner,
		merger:    merger,
		store:     store,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// S3Enabled reports whether publication is available.
func (s *Service) S3Enabled() bool {
	return s.s3Enabled
}

// Validate checks a request against its struct rules.
func (s *Service) Validate(req *Request) error {
	if err := s.validator.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// CreateBatch validates req and stores a RUNNING batch without starting it.
func (s *Service) CreateBatch(ctx context.Context, req *Request) (*job.Batch, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	segments := make([]*job.Segment, 0, len(req.Segments))
	for _, spec := range req.Segments {
		segments = append(segments, job.NewSegment(spec.Index, spec.Start, spec.End, spec.Prompt))
	}

	batch := job.NewBatch(segments)
	for k, v := range req.Context {
		batch.Context[k] = v
	}
	batch.PushToS3 = req.PushToS3

	if err := s.repo.Save(ctx, batch); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}

	s.logger.Info("batch created",
		slog.String("batch_id", batch.ID),
		slog.Int("segments", len(segments)),
		slog.Bool("push_to_s3", batch.PushToS3),
	)
	return batch, nil
}

// GetBatch returns a snapshot of a batch.
func (s *Service) GetBatch(ctx context.Context, id string) (*job.Batch, error) {
	return s.repo.FindByID(ctx, id)
}

// ListBatches returns snapshots of every known batch.
func (s *Service) ListBatches(ctx context.Context) ([]*job.Batch, error) {
	return s.repo.List(ctx)
}

// Run creates a batch for req and processes it to the end.
func (s *Service) Run(ctx context.Context, req *Request) (*Outcome, error) {
	batch, err := s.CreateBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, batch)
}

// ProcessBatch processes a batch previously stored by CreateBatch.
func (s *Service) ProcessBatch(ctx context.Context, id string) (*Outcome, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if batch.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrBatchNotRunning, id, batch.GetStatus())
	}
	return s.process(ctx, batch)
}

func (s *Service) process(ctx context.Context, batch *job.Batch) (*Outcome, error) {
	logger := s.logger.With(slog.String("batch_id", batch.ID))
	// Records survive cancellation of the work itself.
	saveCtx := context.WithoutCancel(ctx)

	if _, err := s.tokens.Get(ctx); err != nil {
		logger.Error("no credential available, aborting batch", slog.String("error", err.Error()))
		return s.abort(saveCtx, batch, err)
	}

	results := s.runner.Run(ctx, batch.Segments, batch.Pending, func(res poller.Result) {
		batch.UpdateProgress()
		s.save(saveCtx, batch, logger)
	})
	logSummary(logger, results)

	in := merge.Input{
		BatchID:  batch.ID,
		Context:  batch.Context,
		Segments: batch.Segments,
	}
	if batch.PushToS3 {
		if s.s3Enabled {
			in.Publisher = &s3Publisher{store: s.store}
		} else {
			logger.Warn("push_to_s3 requested but S3 is not configured")
		}
	}

	out, err := s.merger.Merge(ctx, in)
	if err != nil {
		logger.Error("merge failed, aborting batch", slog.String("error", err.Error()))
		return s.abort(saveCtx, batch, err)
	}

	if in.Publisher != nil && out.VideoURL != "" {
		s.publishManifest(saveCtx, batch.ID, out.ManifestPath, logger)
	}

	batch.SetOutput(out.FinalPath, out.ManifestPath, out.VideoURL)
	if err := batch.Finish(len(out.Merged)); err != nil {
		return nil, fmt.Errorf("finish batch: %w", err)
	}

	if s.cleanupSegments {
		s.cleanup(saveCtx, batch, out.Merged, logger)
	}
	s.save(saveCtx, batch, logger)

	logger.Info("batch finished",
		slog.String("status", string(batch.GetStatus())),
		slog.Int("merged", len(out.Merged)),
		slog.Int("missing", len(out.Missing)),
		slog.String("final_path", out.FinalPath),
	)

	return &Outcome{Batch: batch.Clone(), Manifest: out.Manifest}, nil
}

func (s *Service) abort(ctx context.Context, batch *job.Batch, cause error) (*Outcome, error) {
	if err := batch.Fail(cause.Error()); err != nil {
		return nil, fmt.Errorf("fail batch: %w", err)
	}
	batch.UpdateProgress()
	s.save(ctx, batch, s.logger.With(slog.String("batch_id", batch.ID)))
	return &Outcome{Batch: batch.Clone()}, fmt.Errorf("%w: %w", ErrBatchAborted, cause)
}

func (s *Service) save(ctx context.Context, batch *job.Batch, logger *slog.Logger) {
	if err := s.repo.Save(ctx, batch); err != nil {
		logger.Error("failed to save batch", slog.String("error", err.Error()))
	}
}

func (s *Service) publishManifest(ctx context.Context, batchID, manifestPath string, logger *slog.Logger) {
	f, err := s.store.LoadTemp(ctx, manifestPath)
	if err != nil {
		logger.Warn("failed to open manifest for upload", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := s.store.UploadToS3(ctx, objectKey(batchID, "manifest.json"), f); err != nil {
		logger.Warn("failed to upload manifest", slog.String("error", err.Error()))
	}
}

func (s *Service) cleanup(ctx context.Context, batch *job.Batch, merged []int, logger *slog.Logger) {
	inMerge := make(map[int]bool, len(merged))
	for _, i := range merged {
		inMerge[i] = true
	}
	var paths []string
	for _, seg := range batch.Segments {
		c := seg.Clone()
		if inMerge[c.Index] && c.LocalPath != "" {
			paths = append(paths, c.LocalPath)
		}
	}
	if err := s.store.CleanupTemp(ctx, paths); err != nil {
		logger.Warn("failed to remove segment files", slog.String("error", err.Error()))
	}
}

func logSummary(logger *slog.Logger, results []poller.Result) {
	counts := make(map[job.SegmentStatus]int)
	downloadFailures := 0
	for _, r := range results {
		counts[r.Status]++
		if r.Status == job.SegmentCompleted && r.LocalPath == "" {
			downloadFailures++
		}
	}
	logger.Info("segments resolved",
		slog.Int("completed", counts[job.SegmentCompleted]),
		slog.Int("failed", counts[job.SegmentFailed]),
		slog.Int("skipped", counts[job.SegmentSkipped]),
		slog.Int("timed_out", counts[job.SegmentTimedOut]),
		slog.Int("download_failures", downloadFailures),
	)
}

// s3Publisher uploads the final artifact under batches/<id>/final.mp4.
type s3Publisher struct {
	store storage.Storage
}

func (p *s3Publisher) Publish(ctx context.Context, batchID, finalPath string) (string, error) {
	f, err := p.store.LoadTemp(ctx, finalPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return p.store.UploadToS3(ctx, objectKey(batchID, "final.mp4"), f)
}

func objectKey(batchID, name string) string {
	return path.Join("batches", batchID, name)
}
