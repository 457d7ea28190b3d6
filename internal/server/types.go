// Package server provides the HTTP surface of the segment stitcher.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/segment-stitcher/internal/job"
)

// CreateBatchResponse is the HTTP response after creating a batch.
type CreateBatchResponse struct {
	// ID is the unique identifier for the created batch.
	ID string `json:"id"`
	// Status is the initial batch status.
	Status string `json:"status"`
	// Segments is the number of segments accepted.
	Segments int `json:"segments"`
}

// SegmentResponse is the per-segment part of a batch snapshot.
type SegmentResponse struct {
	Index         int     `json:"index"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Status        string  `json:"status"`
	OperationID   string  `json:"operation_id,omitempty"`
	ArtifactURL   string  `json:"artifact_url,omitempty"`
	Downloaded    bool    `json:"downloaded"`
	Error         string  `json:"error,omitempty"`
	PollAttempts  int     `json:"poll_attempts"`
	Resubmissions int     `json:"resubmissions"`
}

// BatchResponse is the HTTP response for getting batch details.
type BatchResponse struct {
	// ID is the unique identifier for the batch.
	ID string `json:"id"`
	// Status is the current batch status.
	Status string `json:"status"`
	// Progress is the percentage of resolved segments (0-100).
	Progress int `json:"progress"`
	// Error contains the abort reason if the batch failed.
	Error   string            `json:"error,omitempty"`
	Context map[string]string `json:"context,omitempty"`
	// Pending lists the indexes still waiting on a remote operation.
	Pending  []int             `json:"pending"`
	Segments []SegmentResponse `json:"segments"`
	// FinalPath is the local merged artifact, set once the batch finished.
	FinalPath    string `json:"final_path,omitempty"`
	ManifestPath string `json:"manifest_path,omitempty"`
	// VideoURL is the S3 URL of the merged artifact (if push_to_s3 was honoured).
	VideoURL    string     `json:"video_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListBatchesResponse is the HTTP response for listing batches.
type ListBatchesResponse struct {
	Batches []BatchResponse `json:"batches"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newBatchResponse(b *job.Batch) BatchResponse {
	resp := BatchResponse{
		ID:           b.ID,
		Status:       string(b.Status),
		Progress:     b.Progress,
		Error:        b.Error,
		Context:      b.Context,
		Pending:      b.Pending.Indexes(),
		Segments:     make([]SegmentResponse, 0, len(b.Segments)),
		FinalPath:    b.FinalPath,
		ManifestPath: b.ManifestPath,
		VideoURL:     b.VideoURL,
		CreatedAt:    b.CreatedAt,
	}
	if !b.CompletedAt.IsZero() {
		completed := b.CompletedAt
		resp.CompletedAt = &completed
	}
	for _, s := range b.Segments {
		resp.Segments = append(resp.Segments, SegmentResponse{
			Index:         s.Index,
			Start:         s.Start,
			End:           s.End,
			Status:        string(s.Status),
			OperationID:   s.OperationID,
			ArtifactURL:   s.ArtifactURL,
			Downloaded:    s.LocalPath != "",
			Error:         s.Error,
			PollAttempts:  s.PollAttempts,
			Resubmissions: s.Resubmissions,
		})
	}
	return resp
}
