package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/segment-stitcher/internal/generator"
)

// Static errors for task queue operations.
var (
	// ErrQueueURLRequired is returned when the queue URL is not provided.
	ErrQueueURLRequired = errors.New("taskqueue: queue URL is required")
	// ErrStatusURLRequired is returned when the status URL is not provided.
	ErrStatusURLRequired = errors.New("taskqueue: status URL is required")
	// ErrTokenRequired is returned when a call is made without a credential.
	ErrTokenRequired = errors.New("taskqueue: token is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("taskqueue: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("taskqueue: submit failed: no task ID returned")
	// ErrSubmitFailed is returned when the queue answers 2xx with an error.
	ErrSubmitFailed = errors.New("taskqueue: submit failed")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("taskqueue: request failed")
	// ErrResponseTooLarge is returned when a response body exceeds maxResponseBytes.
	ErrResponseTooLarge = errors.New("taskqueue: response body too large")
)

// maxResponseBytes bounds a response body read into memory.
const maxResponseBytes = 1 << 20

// Compile-time check that HTTPClient implements generator.Generator.
var _ generator.Generator = (*HTTPClient)(nil)

// HTTPClient enqueues prompts on a task queue and polls task status.
type HTTPClient struct {
	queueURL   string
	statusURL  string
	model      string
	httpClient *http.Client
	policy     *generator.PolicyClassifier
	now        func() time.Time
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithModel sets the model name sent with every task.
func WithModel(model string) ClientOption {
	return func(hc *HTTPClient) {
		hc.model = model
	}
}

// WithPolicyClassifier sets how failed tasks are split into FAILED and SKIPPED.
func WithPolicyClassifier(p *generator.PolicyClassifier) ClientOption {
	return func(hc *HTTPClient) {
		hc.policy = p
	}
}

// NewClient creates a task queue client. Tasks are posted to queueURL and
// their status is read from statusURL joined with the task ID.
func NewClient(queueURL, statusURL string, opts ...ClientOption) (*HTTPClient, error) {
	if queueURL == "" {
		return nil, ErrQueueURLRequired
	}
	if statusURL == "" {
		return nil, ErrStatusURLRequired
	}

	c := &HTTPClient{
		queueURL:   queueURL,
		statusURL:  strings.TrimRight(statusURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.policy == nil {
		c.policy = generator.NewPolicyClassifier(nil)
	}

	return c, nil
}

// Submit enqueues a task for prompt and returns the task ID.
func (c *HTTPClient) Submit(ctx context.Context, prompt, token string) (string, error) {
	if token == "" {
		return "", ErrTokenRequired
	}

	bodyBytes, err := json.Marshal(taskRequest{Prompt: prompt, Model: c.model})
	if err != nil {
		return "", fmt.Errorf("taskqueue: marshal request: %w", err)
	}

	var resp taskResponse
	status, err := c.doRequest(ctx, "submit", http.MethodPost, c.queueURL, token, bodyBytes, &resp)
	if err != nil {
		return "", err
	}

	if resp.TaskID == "" {
		cause := ErrNoTaskIDReturned
		if resp.Error != "" {
			cause = fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", &generator.CallError{Op: "submit", Kind: generator.KindFatal, StatusCode: status, Err: cause}
	}

	return resp.TaskID, nil
}

// Poll checks the status of a task. A task the queue no longer knows about
// is reported as FAILED.
func (c *HTTPClient) Poll(ctx context.Context, taskID, token string) (generator.PollResult, error) {
	if taskID == "" {
		return generator.PollResult{}, ErrTaskIDRequired
	}
	if token == "" {
		return generator.PollResult{}, ErrTokenRequired
	}

	endpoint := fmt.Sprintf("%s/%s/", c.statusURL, url.PathEscape(taskID))

	var resp statusResponse
	if _, err := c.doRequest(ctx, "poll", http.MethodGet, endpoint, token, nil, &resp); err != nil {
		var ce *generator.CallError
		if errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound {
			return generator.Failed(rawNotFound, "task not found"), nil
		}
		return generator.PollResult{}, err
	}

	return c.mapStatus(resp), nil
}

func (c *HTTPClient) mapStatus(resp statusResponse) generator.PollResult {
	raw := strings.ToUpper(strings.TrimSpace(resp.Status))

	switch raw {
	case rawPending, rawRunning, "":
		return generator.Pending()
	case rawCompleted, rawComplete:
		if len(resp.Outputs) == 0 || resp.Outputs[0].URL == "" {
			return generator.Failed("NO_ARTIFACT", "no output URL available")
		}
		return generator.Completed(resp.Outputs[0].URL)
	case rawCanceled:
		return generator.Failed(rawCanceled, "task was canceled")
	default:
		// FAILED, ERROR and anything unknown.
		return c.policy.Classify(raw, resp.ErrorCode, resp.Error)
	}
}

// doRequest performs a single HTTP request and returns the response status.
func (c *HTTPClient) doRequest(ctx context.Context, op, method, endpoint, token string, body []byte, result interface{}) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("taskqueue: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("taskqueue: %s cancelled: %w", op, ctx.Err())
		}
		return 0, &generator.CallError{Op: op, Kind: generator.KindTransient, Err: fmt.Errorf("taskqueue: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err == nil && len(respBody) > maxResponseBytes {
		return resp.StatusCode, &generator.CallError{Op: op, Kind: generator.KindFatal, StatusCode: resp.StatusCode, Err: ErrResponseTooLarge}
	}
	if err != nil {
		return resp.StatusCode, &generator.CallError{Op: op, Kind: generator.KindTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("taskqueue: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &generator.CallError{
			Op:         op,
			Kind:       generator.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: generator.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Err:        fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, &generator.CallError{Op: op, Kind: generator.KindFatal, StatusCode: resp.StatusCode, Err: fmt.Errorf("taskqueue: unmarshal response: %w", err)}
		}
	}

	return resp.StatusCode, nil
}
