package job

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SegmentStatus represents the lifecycle state of a single Segment.
type SegmentStatus string

const (
	// SegmentQueued indicates the segment has not been submitted yet.
	SegmentQueued SegmentStatus = "QUEUED"
	// SegmentSubmitting indicates a submission call is in flight.
	SegmentSubmitting SegmentStatus = "SUBMITTING"
	// SegmentPending indicates the remote operation exists and is being polled.
	SegmentPending SegmentStatus = "PENDING"
	// SegmentCompleted indicates the remote operation produced an artifact.
	SegmentCompleted SegmentStatus = "COMPLETED"
	// SegmentFailed indicates the segment could not be generated.
	SegmentFailed SegmentStatus = "FAILED"
	// SegmentSkipped indicates the remote service rejected the prompt by policy.
	SegmentSkipped SegmentStatus = "SKIPPED"
	// SegmentTimedOut indicates the polling budget ran out while still pending.
	SegmentTimedOut SegmentStatus = "TIMED_OUT"
)

// IsTerminal returns true if no further transition is possible from s.
func (s SegmentStatus) IsTerminal() bool {
	switch s {
	case SegmentCompleted, SegmentFailed, SegmentSkipped, SegmentTimedOut:
		return true
	default:
		return false
	}
}

// ErrInvalidSegmentTransition is returned when a segment would move backwards
// or skip a required state.
var ErrInvalidSegmentTransition = errors.New("invalid segment transition")

// ErrResubmitNotPending is returned when a resubmission is attempted on a
// segment that is not being polled.
var ErrResubmitNotPending = errors.New("resubmission requires a pending segment")

var segmentTransitions = map[SegmentStatus][]SegmentStatus{
	SegmentQueued:     {SegmentSubmitting, SegmentFailed},
	SegmentSubmitting: {SegmentPending, SegmentFailed},
	SegmentPending:    {SegmentCompleted, SegmentFailed, SegmentSkipped, SegmentTimedOut},
	SegmentCompleted:  {},
	SegmentFailed:     {},
	SegmentSkipped:    {},
	SegmentTimedOut:   {},
}

func canTransitionSegment(from, to SegmentStatus) bool {
	for _, s := range segmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Segment is one ordered unit of generation work.
// Index and Prompt are fixed at creation; everything else is driven by the
// state machine methods and guarded by an internal lock.
type Segment struct {
	mu sync.RWMutex

	// Index defines the position of this segment in the final artifact.
	Index int
	// Start and End are the informational time range in seconds.
	Start float64
	End   float64
	// Prompt is the opaque generation prompt.
	Prompt string

	// OperationID is the active remote operation, empty until submitted.
	OperationID string
	// Status is the current lifecycle state.
	Status SegmentStatus
	// ArtifactURL is set when the remote operation completes.
	ArtifactURL string
	// LocalPath is set once the artifact has been downloaded.
	LocalPath string
	// Error holds the last error observed for this segment.
	Error string
	// PollAttempts counts poll ticks under the current OperationID.
	PollAttempts int
	// Resubmissions counts how many times OperationID has been replaced.
	Resubmissions int
	// SubmittedAt is when the current OperationID was obtained.
	SubmittedAt time.Time
	// CompletedAt is when the segment reached a terminal state.
	CompletedAt time.Time
}

// NewSegment creates a QUEUED segment.
func NewSegment(index int, start, end float64, prompt string) *Segment {
	return &Segment{
		Index:  index,
		Start:  start,
		End:    end,
		Prompt: prompt,
		Status: SegmentQueued,
	}
}

func (s *Segment) transitionLocked(to SegmentStatus) error {
	if !canTransitionSegment(s.Status, to) {
		return fmt.Errorf("%w: segment %d %s -> %s", ErrInvalidSegmentTransition, s.Index, s.Status, to)
	}
	s.Status = to
	if to.IsTerminal() {
		s.CompletedAt = time.Now()
	}
	return nil
}

// BeginSubmit moves the segment from QUEUED to SUBMITTING.
func (s *Segment) BeginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(SegmentSubmitting)
}

// MarkSubmitted records the operation returned by the first successful
// submission and moves the segment to PENDING.
func (s *Segment) MarkSubmitted(operationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(SegmentPending); err != nil {
		return err
	}
	s.OperationID = operationID
	s.SubmittedAt = at
	s.PollAttempts = 0
	return nil
}

// Resubmit replaces the active operation with a fresh one after a
// recoverable failure. The poll attempt counter starts over.
func (s *Segment) Resubmit(operationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != SegmentPending {
		return fmt.Errorf("%w: segment %d is %s", ErrResubmitNotPending, s.Index, s.Status)
	}
	s.OperationID = operationID
	s.SubmittedAt = at
	s.PollAttempts = 0
	s.Resubmissions++
	return nil
}

// RecordPollAttempt increments the poll counter and returns the new value.
func (s *Segment) RecordPollAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PollAttempts++
	return s.PollAttempts
}

// Complete moves the segment to COMPLETED with the artifact reference.
func (s *Segment) Complete(artifactURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(SegmentCompleted); err != nil {
		return err
	}
	s.ArtifactURL = artifactURL
	return nil
}

// Fail moves the segment to FAILED and records the cause.
func (s *Segment) Fail(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(SegmentFailed); err != nil {
		return err
	}
	s.Error = errMsg
	return nil
}

// Skip moves the segment to SKIPPED and records the rejection reason.
func (s *Segment) Skip(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(SegmentSkipped); err != nil {
		return err
	}
	s.Error = reason
	return nil
}

// TimeOut moves the segment to TIMED_OUT.
func (s *Segment) TimeOut(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(SegmentTimedOut); err != nil {
		return err
	}
	s.Error = errMsg
	return nil
}

// SetLocalPath records where the downloaded artifact lives.
func (s *Segment) SetLocalPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LocalPath = path
}

// SetError records an error without changing status. Used for failures that
// happen after the remote operation completed, such as a failed download.
func (s *Segment) SetError(errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Error = errMsg
}

// GetStatus returns the current status (thread-safe).
func (s *Segment) GetStatus() SegmentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// GetPollAttempts returns the poll counter for the active operation (thread-safe).
func (s *Segment) GetPollAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PollAttempts
}

// GetOperationID returns the active operation id (thread-safe).
func (s *Segment) GetOperationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.OperationID
}

// Clone creates a copy of the segment for safe reads.
func (s *Segment) Clone() *Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Segment{
		Index:         s.Index,
		Start:         s.Start,
		End:           s.End,
		Prompt:        s.Prompt,
		OperationID:   s.OperationID,
		Status:        s.Status,
		ArtifactURL:   s.ArtifactURL,
		LocalPath:     s.LocalPath,
		Error:         s.Error,
		PollAttempts:  s.PollAttempts,
		Resubmissions: s.Resubmissions,
		SubmittedAt:   s.SubmittedAt,
		CompletedAt:   s.CompletedAt,
	}
}
