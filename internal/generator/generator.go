// Package generator defines the contract of the external video generation
// service: submitting a prompt and polling the resulting operation.
// Responses are represented as a tagged PollResult so that callers branch on
// Status instead of inspecting response shapes.
package generator

import "context"

// Status represents the state of a remote generation operation.
type Status string

// Operation statuses as seen by the orchestrator.
const (
	StatusPending   Status = "PENDING"   // Operation accepted, artifact not ready
	StatusCompleted Status = "COMPLETED" // Artifact available at ArtifactURL
	StatusFailed    Status = "FAILED"    // Generic failure, a new submission may succeed
	StatusSkipped   Status = "SKIPPED"   // Rejected by content policy, never retried
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// PollResult contains the result of polling an operation.
type PollResult struct {
	Status      Status // Current operation status
	ArtifactURL string // URL of the generated video (COMPLETED only)
	ErrorCode   string // Provider error code (FAILED / SKIPPED)
	Error       string // Human readable error or rejection reason
}

// Pending returns a PENDING result.
func Pending() PollResult {
	return PollResult{Status: StatusPending}
}

// Completed returns a COMPLETED result pointing at url.
func Completed(url string) PollResult {
	return PollResult{Status: StatusCompleted, ArtifactURL: url}
}

// Failed returns a FAILED result.
func Failed(code, msg string) PollResult {
	return PollResult{Status: StatusFailed, ErrorCode: code, Error: msg}
}

// Skipped returns a SKIPPED result.
func Skipped(code, reason string) PollResult {
	return PollResult{Status: StatusSkipped, ErrorCode: code, Error: reason}
}

// Generator defines the interface of the generation service.
// Each call is a single attempt; retry policy belongs to the caller.
type Generator interface {
	// Submit starts a generation for prompt and returns the operation ID.
	Submit(ctx context.Context, prompt, token string) (operationID string, err error)

	// Poll checks the status of an operation.
	Poll(ctx context.Context, operationID, token string) (PollResult, error)
}
