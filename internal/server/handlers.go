package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/pipeline"
)

// maxRequestBytes bounds a batch request body.
const maxRequestBytes = 1 << 20

// BatchService is the part of the pipeline the handlers use.
type BatchService interface {
	Validate(req *pipeline.Request) error
	CreateBatch(ctx context.Context, req *pipeline.Request) (*job.Batch, error)
	ProcessBatch(ctx context.Context, id string) (*pipeline.Outcome, error)
	GetBatch(ctx context.Context, id string) (*job.Batch, error)
	ListBatches(ctx context.Context) ([]*job.Batch, error)
}

var _ BatchService = (*pipeline.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            BatchService
	logger             *slog.Logger
	segmentLength      float64
	enableAsyncProcess bool
	// baseCtx parents background batches so that shutdown can cancel them.
	baseCtx context.Context
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateBatch only stores the batch and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithSegmentLength sets the segment duration used for bare prompt lists.
func WithSegmentLength(seconds float64) HandlerOption {
	return func(h *Handlers) {
		h.segmentLength = seconds
	}
}

// WithBaseContext parents background batches on ctx. Cancelling it
// cancels every running batch.
func WithBaseContext(ctx context.Context) HandlerOption {
	return func(h *Handlers) {
		h.baseCtx = ctx
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service BatchService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		logger:             logger,
		segmentLength:      pipeline.DefaultSegmentLength,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateBatch handles POST /batches requests. The body is either a full
// request object or a bare JSON array of prompts.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.logger.Warn("failed to read request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
		return
	}

	req, err := pipeline.ParseRequest(body, h.segmentLength)
	if err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.service.Validate(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.CreateBatch(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to create batch",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create batch", "BATCH_CREATION_FAILED")
		return
	}

	h.logger.Info("batch accepted",
		slog.String("batch_id", created.ID),
		slog.String("request_id", RequestIDFrom(r.Context())),
		slog.Int("segments", len(created.Segments)),
	)

	// Background work outlives the request but not the server.
	if h.enableAsyncProcess {
		ctx := h.baseCtx
		if ctx == nil {
			ctx = context.WithoutCancel(r.Context())
		}
		go func(ctx context.Context, batchID string) {
			if _, processErr := h.service.ProcessBatch(ctx, batchID); processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("batch_id", batchID),
					slog.String("error", processErr.Error()),
				)
			}
		}(ctx, created.ID)
	}

	writeJSON(w, http.StatusAccepted, CreateBatchResponse{
		ID:       created.ID,
		Status:   string(created.GetStatus()),
		Segments: len(created.Segments),
	})
}

// GetBatch handles GET /batches/{id} requests.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "batch ID is required", "MISSING_BATCH_ID")
		return
	}

	found, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, job.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "batch not found", "BATCH_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get batch",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get batch", "BATCH_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newBatchResponse(found))
}

// ListBatches handles GET /batches requests.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListBatches(r.Context())
	if err != nil {
		h.logger.Error("failed to list batches",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list batches", "BATCH_LIST_FAILED")
		return
	}

	resp := ListBatchesResponse{Batches: make([]BatchResponse, 0, len(batches))}
	for _, b := range batches {
		resp.Batches = append(resp.Batches, newBatchResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
