package videogen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/segment-stitcher/internal/generator"
)

func TestNewClient_MissingBaseURL(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestNewClient_Options(t *testing.T) {
	custom := &http.Client{Timeout: time.Second}
	client, err := NewClient("https://gen.example.com/", WithHTTPClient(custom), WithModel("veo-3"))
	require.NoError(t, err)

	assert.Equal(t, "https://gen.example.com", client.baseURL)
	assert.Equal(t, custom, client.httpClient)
	assert.Equal(t, "veo-3", client.model)
	assert.NotNil(t, client.policy)
}

func TestSubmit_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/operations", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a red kite over hills", req.Prompt)
		assert.Equal(t, "veo-3", req.Model)

		_ = json.NewEncoder(w).Encode(createResponse{OperationID: "op-123"})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithModel("veo-3"))

	opID, err := client.Submit(context.Background(), "a red kite over hills", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "op-123", opID)
}

func TestSubmit_Validation(t *testing.T) {
	client, _ := NewClient("https://gen.example.com")

	_, err := client.Submit(context.Background(), "  ", "tok")
	assert.ErrorIs(t, err, ErrPromptRequired)

	_, err = client.Submit(context.Background(), "prompt", "")
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestSubmit_RejectedInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{Error: &apiError{Code: "INVALID_ARGUMENT", Message: "prompt too long"}})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)

	_, err := client.Submit(context.Background(), "prompt", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmitRejected)
	assert.Equal(t, generator.KindFatal, generator.KindOf(err))
}

func TestSubmit_NoOperationID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)

	_, err := client.Submit(context.Background(), "prompt", "tok")
	assert.ErrorIs(t, err, ErrNoOperationIDReturned)
}

func TestSubmit_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   generator.ErrorKind
		wantHint   time.Duration
	}{
		{"rate limited with hint", http.StatusTooManyRequests, "2", generator.KindTransient, 2 * time.Second},
		{"server error", http.StatusBadGateway, "", generator.KindTransient, 0},
		{"unauthorized", http.StatusUnauthorized, "", generator.KindAuth, 0},
		{"forbidden", http.StatusForbidden, "", generator.KindAuth, 0},
		{"bad request", http.StatusBadRequest, "", generator.KindFatal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			client, _ := NewClient(server.URL)

			_, err := client.Submit(context.Background(), "prompt", "tok")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRequestFailed)
			assert.Equal(t, tt.wantKind, generator.KindOf(err))
			assert.Equal(t, tt.wantHint, generator.RetryAfterOf(err))
		})
	}
}

func TestSubmit_DeadlineIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Submit(ctx, "prompt", "tok")
	require.Error(t, err)
	assert.Equal(t, generator.KindTransient, generator.KindOf(err))
}

func TestPoll_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		response operationResponse
		want     generator.PollResult
	}{
		{
			name:     "pending",
			response: operationResponse{OperationID: "op-1", Status: "PENDING"},
			want:     generator.Pending(),
		},
		{
			name:     "running",
			response: operationResponse{OperationID: "op-1", Status: "running"},
			want:     generator.Pending(),
		},
		{
			name:     "completed",
			response: operationResponse{OperationID: "op-1", Status: "COMPLETED", VideoURL: "https://cdn.example.com/op-1.mp4"},
			want:     generator.Completed("https://cdn.example.com/op-1.mp4"),
		},
		{
			name:     "succeeded",
			response: operationResponse{OperationID: "op-1", Status: "SUCCEEDED", VideoURL: "https://cdn.example.com/op-1.mp4"},
			want:     generator.Completed("https://cdn.example.com/op-1.mp4"),
		},
		{
			name:     "completed without url",
			response: operationResponse{OperationID: "op-1", Status: "COMPLETED"},
			want:     generator.Failed("NO_ARTIFACT", "operation completed without a video URL"),
		},
		{
			name:     "generic failure",
			response: operationResponse{OperationID: "op-1", Status: "FAILED", Error: &apiError{Code: "INTERNAL", Message: "worker crashed"}},
			want:     generator.Failed("INTERNAL", "worker crashed"),
		},
		{
			name:     "policy rejection",
			response: operationResponse{OperationID: "op-1", Status: "FAILED", Error: &apiError{Code: "PUBLIC_ERROR_UNSAFE_GENERATION", Message: "unsafe"}},
			want:     generator.Skipped("PUBLIC_ERROR_UNSAFE_GENERATION", "unsafe"),
		},
		{
			name:     "filtered status",
			response: operationResponse{OperationID: "op-1", Status: "FILTERED"},
			want:     generator.Skipped("", ""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/operations/op-1", r.URL.Path)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client, _ := NewClient(server.URL)

			result, err := client.Poll(context.Background(), "op-1", "tok")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestPoll_NotFoundIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)

	result, err := client.Poll(context.Background(), "op-gone", "tok")
	require.NoError(t, err)
	assert.Equal(t, generator.StatusFailed, result.Status)
	assert.Equal(t, "NOT_FOUND", result.ErrorCode)
}

func TestPoll_TransientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)

	_, err := client.Poll(context.Background(), "op-1", "tok")
	require.Error(t, err)
	assert.Equal(t, generator.KindTransient, generator.KindOf(err))
}

func TestPoll_Validation(t *testing.T) {
	client, _ := NewClient("https://gen.example.com")

	_, err := client.Poll(context.Background(), "", "tok")
	assert.ErrorIs(t, err, ErrOperationIDRequired)

	_, err = client.Poll(context.Background(), "op", "")
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestPoll_OversizedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"op-1","pad":"`))
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBytes)))
		_, _ = w.Write([]byte(`"}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	_, err := client.Poll(context.Background(), "op-1", "tok")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.Equal(t, generator.KindFatal, generator.KindOf(err))
}
