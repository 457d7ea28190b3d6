// Package job provides the Batch aggregate and its Segments for orchestrating
// asynchronous video generation. It includes the segment and batch state
// machines, the pending-operation table, the outcome manifest, and repository
// interfaces for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/segment-stitcher/internal/job/id"
)

// Status represents the current state of a Batch.
type Status string

const (
	// StatusRunning indicates segments are being generated.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every segment was merged into the final artifact.
	StatusCompleted Status = "COMPLETED"
	// StatusPartial indicates a final artifact exists but some segments are missing.
	StatusPartial Status = "PARTIAL"
	// StatusFailed indicates the batch was aborted and produced no artifact.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusRunning:   {StatusCompleted, StatusPartial, StatusFailed},
	StatusCompleted: {},
	StatusPartial:   {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Batch is the ordered collection of Segments submitted together.
// It is created per orchestration request and discarded once the merge
// engine has consumed its results.
type Batch struct {
	mu sync.RWMutex

	// ID is the unique identifier for this batch.
	ID string
	// Status is the current batch state.
	Status Status
	// Context carries caller supplied metadata (theme, title, ...) into the manifest.
	Context map[string]string
	// Segments are ordered by Index at creation.
	Segments []*Segment
	// Pending tracks the active operation of every unresolved segment.
	Pending *PendingTable
	// Progress is the percentage of resolved segments (0-100).
	Progress int
	// Error contains the reason the batch failed.
	Error string
	// FinalPath is the local path of the merged artifact.
	FinalPath string
	// ManifestPath is the local path of the written manifest.
	ManifestPath string
	// PushToS3 indicates whether to publish the result to S3.
	PushToS3 bool
	// VideoURL is the S3 URL if PushToS3 was honoured.
	VideoURL string
	// CreatedAt is when the batch was created.
	CreatedAt time.Time
	// UpdatedAt is when the batch was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the batch reached a terminal state.
	CompletedAt time.Time
}

// NewBatch creates a RUNNING batch with a generated ID.
func NewBatch(segments []*Segment) *Batch {
	return NewBatchWithID(id.Generate(), segments)
}

// NewBatchWithID creates a RUNNING batch with the given ID.
// Useful for testing or when the ID is generated by the caller.
func NewBatchWithID(batchID string, segments []*Segment) *Batch {
	now := time.Now()
	if segments == nil {
		segments = make([]*Segment, 0)
	}
	return &Batch{
		ID:        batchID,
		Status:    StatusRunning,
		Context:   make(map[string]string),
		Segments:  segments,
		Pending:   NewPendingTable(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the batch status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (b *Batch) TransitionTo(status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !canTransition(b.Status, status) {
		return ErrInvalidTransition
	}

	b.Status = status
	b.UpdatedAt = time.Now()
	if status != StatusRunning {
		b.CompletedAt = b.UpdatedAt
	}
	return nil
}

// Fail transitions the batch to FAILED with an error message.
func (b *Batch) Fail(errMsg string) error {
	b.mu.Lock()
	b.Error = errMsg
	b.mu.Unlock()
	return b.TransitionTo(StatusFailed)
}

// Finish transitions the batch to COMPLETED when every segment made it into
// the artifact, and to PARTIAL otherwise.
func (b *Batch) Finish(mergedCount int) error {
	b.mu.RLock()
	total := len(b.Segments)
	b.mu.RUnlock()
	if mergedCount >= total {
		return b.TransitionTo(StatusCompleted)
	}
	return b.TransitionTo(StatusPartial)
}

// GetStatus returns the current batch status (thread-safe).
func (b *Batch) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Status
}

// UpdateProgress recomputes Progress from the segments' terminal states.
func (b *Batch) UpdateProgress() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Segments) == 0 {
		b.Progress = 0
		return
	}
	resolved := 0
	for _, s := range b.Segments {
		if s.GetStatus().IsTerminal() {
			resolved++
		}
	}
	b.Progress = resolved * 100 / len(b.Segments)
	b.UpdatedAt = time.Now()
}

// SetOutput records the merged artifact, its manifest and the optional S3 URL.
func (b *Batch) SetOutput(finalPath, manifestPath, videoURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FinalPath = finalPath
	b.ManifestPath = manifestPath
	b.VideoURL = videoURL
	b.UpdatedAt = time.Now()
}

// IsTerminal returns true if the batch is in a terminal state.
func (b *Batch) IsTerminal() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Status != StatusRunning
}

// Clone creates a deep copy of the batch for safe reads.
func (b *Batch) Clone() *Batch {
	b.mu.RLock()
	defer b.mu.RUnlock()

	segments := make([]*Segment, len(b.Segments))
	for i, s := range b.Segments {
		segments[i] = s.Clone()
	}
	meta := make(map[string]string, len(b.Context))
	for k, v := range b.Context {
		meta[k] = v
	}

	return &Batch{
		ID:           b.ID,
		Status:       b.Status,
		Context:      meta,
		Segments:     segments,
		Pending:      b.Pending.Clone(),
		Progress:     b.Progress,
		Error:        b.Error,
		FinalPath:    b.FinalPath,
		ManifestPath: b.ManifestPath,
		PushToS3:     b.PushToS3,
		VideoURL:     b.VideoURL,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
		CompletedAt:  b.CompletedAt,
	}
}
