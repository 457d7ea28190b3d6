// Package merge reassembles downloaded segment artifacts into the final
// artifact in index order and records the outcome in a manifest.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/media"
)

var (
	// ErrNoInputs is returned when no segment completed with a local artifact.
	ErrNoInputs = errors.New("merge: no inputs")
	// ErrInvalidInputs is returned when every candidate artifact is missing on disk.
	ErrInvalidInputs = errors.New("merge: invalid inputs")
	// ErrBatchIDRequired is returned when the input has no batch ID.
	ErrBatchIDRequired = errors.New("merge: batch ID is required")
)

// Kind is the reason a merge could not produce an artifact.
type Kind string

const (
	// KindNoInputs means nothing completed.
	KindNoInputs Kind = "no_inputs"
	// KindInvalidInputs means completed artifacts were not found on disk.
	KindInvalidInputs Kind = "invalid_inputs"
)

// Error is returned when the merge preconditions fail.
type Error struct {
	Kind Kind
	// Dropped lists the indexes whose local file was missing.
	Dropped []int
}

func (e *Error) Error() string {
	if len(e.Dropped) > 0 {
		return fmt.Sprintf("merge: %s (missing files for segments %v)", e.Kind, e.Dropped)
	}
	return fmt.Sprintf("merge: %s", e.Kind)
}

// Unwrap maps the kind to its sentinel so callers can use errors.Is.
func (e *Error) Unwrap() error {
	if e.Kind == KindInvalidInputs {
		return ErrInvalidInputs
	}
	return ErrNoInputs
}

// Publisher makes the final artifact available elsewhere and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, batchID, finalPath string) (string, error)
}

// Input describes one merge.
type Input struct {
	BatchID  string
	Context  map[string]string
	Segments []*job.Segment
	// Publisher, if set, is called after concatenation and before the
	// manifest is written. A publish failure is logged and not fatal.
	Publisher Publisher
}

// Output is the result of a successful merge.
type Output struct {
	FinalPath    string
	ManifestPath string
	VideoURL     string
	Merged       []int
	Missing      []int
	Manifest     *job.Manifest
}

// Engine merges segment artifacts.
type Engine struct {
	concat    media.Concatenator
	outputDir string
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine writing final artifacts into outputDir.
func NewEngine(concat media.Concatenator, outputDir string, opts ...Option) *Engine {
	e := &Engine{
		concat:    concat,
		outputDir: outputDir,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates returns the segments eligible for merging, ordered by index.
// Segments sharing an index keep their input order.
func Candidates(segments []*job.Segment) []*job.Segment {
	out := make([]*job.Segment, 0, len(segments))
	for _, s := range segments {
		if s == nil {
			continue
		}
		c := s.Clone()
		if c.Status == job.SegmentCompleted && c.LocalPath != "" {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Merge concatenates every completed segment in index order into
// <outputDir>/<batch>.mp4 and writes <batch>.manifest.json next to it.
// Nothing is written when it fails with *Error.
func (e *Engine) Merge(ctx context.Context, in Input) (*Output, error) {
	if in.BatchID == "" {
		return nil, ErrBatchIDRequired
	}

	candidates := Candidates(in.Segments)
	if len(candidates) == 0 {
		return nil, &Error{Kind: KindNoInputs}
	}

	paths := make([]string, 0, len(candidates))
	merged := make([]int, 0, len(candidates))
	var dropped []int
	for _, c := range candidates {
		info, err := os.Stat(c.LocalPath)
		if err != nil || !info.Mode().IsRegular() {
			e.logger.Warn("segment artifact missing on disk",
				slog.String("batch_id", in.BatchID),
				slog.Int("segment_index", c.Index),
				slog.String("path", c.LocalPath),
			)
			dropped = append(dropped, c.Index)
			continue
		}
		paths = append(paths, c.LocalPath)
		merged = append(merged, c.Index)
	}
	if len(paths) == 0 {
		return nil, &Error{Kind: KindInvalidInputs, Dropped: dropped}
	}

	if err := os.MkdirAll(e.outputDir, 0750); err != nil {
		return nil, fmt.Errorf("merge: create output directory: %w", err)
	}
	finalPath := filepath.Join(e.outputDir, in.BatchID+".mp4")
	manifestPath := filepath.Join(e.outputDir, in.BatchID+".manifest.json")

	if err := e.concat.JoinVideos(ctx, paths, finalPath); err != nil {
		_ = os.Remove(finalPath)
		return nil, fmt.Errorf("merge: concatenate: %w", err)
	}

	e.logger.Info("segments merged",
		slog.String("batch_id", in.BatchID),
		slog.Int("merged", len(merged)),
		slog.Int("total", len(in.Segments)),
		slog.String("path", finalPath),
	)

	var videoURL string
	if in.Publisher != nil {
		url, err := in.Publisher.Publish(ctx, in.BatchID, finalPath)
		if err != nil {
			e.logger.Warn("failed to publish final artifact",
				slog.String("batch_id", in.BatchID),
				slog.String("error", err.Error()),
			)
		} else {
			videoURL = url
		}
	}

	manifest := job.NewManifest(in.BatchID, in.Context, in.Segments, finalPath, merged)
	manifest.VideoURL = videoURL
	if err := manifest.Write(manifestPath); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	return &Output{
		FinalPath:    finalPath,
		ManifestPath: manifestPath,
		VideoURL:     videoURL,
		Merged:       merged,
		Missing:      manifest.Missing,
		Manifest:     manifest,
	}, nil
}
