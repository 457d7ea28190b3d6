package videogen

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

// Static errors for videogen client operations.
var (
	// ErrBaseURLRequired is returned when the base URL is not provided.
	ErrBaseURLRequired = errors.New("videogen: base URL is required")
	// ErrTokenRequired is returned when a call is made without a credential.
	ErrTokenRequired = errors.New("videogen: token is required")
	// ErrPromptRequired is returned when Submit is called with an empty prompt.
	ErrPromptRequired = errors.New("videogen: prompt is required")
	// ErrOperationIDRequired is returned when the operation ID is not provided.
	ErrOperationIDRequired = errors.New("videogen: operation ID is required")
	// ErrNoOperationIDReturned is returned when the submit response contains no operation ID.
	ErrNoOperationIDReturned = errors.New("videogen: submit failed: no operation ID returned")
	// ErrSubmitRejected is returned when the service answers 2xx with an error object.
	ErrSubmitRejected = errors.New("videogen: submit rejected")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("videogen: request failed")
	// ErrResponseTooLarge is returned when a response body exceeds maxResponseBytes.
	ErrResponseTooLarge = errors.New("videogen: response body too large")
)

// maxResponseBytes bounds a response body read into memory.
const maxResponseBytes = 1 << 20

// Compile-time check that HTTPClient implements generator.Generator.
var _ generator.Generator = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of generator.Generator.
type HTTPClient struct {
	baseURL    string
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

// WithModel sets the model name sent with every submission.
func WithModel(model string) ClientOption {
	return func(hc *HTTPClient) {
		hc.model = model
	}
}

// WithPolicyClassifier sets the rule used to recognise policy rejections.
func WithPolicyClassifier(p *generator.PolicyClassifier) ClientOption {
	return func(hc *HTTPClient) {
		hc.policy = p
	}
}

// NewClient creates a new videogen HTTP client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
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

// Submit starts a generation for prompt and returns the operation ID.
func (c *HTTPClient) Submit(ctx context.Context, prompt, token string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrPromptRequired
	}
	if token == "" {
		return "", ErrTokenRequired
	}

	bodyBytes, err := json.Marshal(createRequest{Prompt: prompt, Model: c.model})
	if err != nil {
		return "", fmt.Errorf("videogen: marshal request: %w", err)
	}

	var resp createResponse
	status, err := c.doRequest(ctx, "submit", http.MethodPost, c.baseURL+"/v1/operations", token, bodyBytes, &resp)
	if err != nil {
		return "", err
	}

	if resp.OperationID == "" {
		if resp.Error != nil {
			return "", &generator.CallError{
				Op:         "submit",
				Kind:       generator.KindFatal,
				StatusCode: status,
				Err:        fmt.Errorf("%w: %s: %s", ErrSubmitRejected, resp.Error.Code, resp.Error.Message),
			}
		}
		return "", &generator.CallError{Op: "submit", Kind: generator.KindFatal, StatusCode: status, Err: ErrNoOperationIDReturned}
	}

	return resp.OperationID, nil
}

// Poll checks the status of an operation. An operation the service no
// longer knows about is reported as FAILED, not as an error.
func (c *HTTPClient) Poll(ctx context.Context, operationID, token string) (generator.PollResult, error) {
	if operationID == "" {
		return generator.PollResult{}, ErrOperationIDRequired
	}
	if token == "" {
		return generator.PollResult{}, ErrTokenRequired
	}

	endpoint := fmt.Sprintf("%s/v1/operations/%s", c.baseURL, url.PathEscape(operationID))

	var resp operationResponse
	if _, err := c.doRequest(ctx, "poll", http.MethodGet, endpoint, token, nil, &resp); err != nil {
		var ce *generator.CallError
		if errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound {
			return generator.Failed(rawNotFound, "operation not found"), nil
		}
		return generator.PollResult{}, err
	}

	return c.mapOperation(resp), nil
}

// mapOperation converts a raw status response into the tagged result.
func (c *HTTPClient) mapOperation(resp operationResponse) generator.PollResult {
	raw := strings.ToUpper(strings.TrimSpace(resp.Status))

	var code, msg string
	if resp.Error != nil {
		code, msg = resp.Error.Code, resp.Error.Message
	}

	switch raw {
	case rawPending, rawQueued, rawRunning, "":
		if resp.Error != nil {
			return c.policy.Classify(raw, code, msg)
		}
		return generator.Pending()
	case rawCompleted, rawSucceeded:
		if resp.VideoURL == "" {
			return generator.Failed("NO_ARTIFACT", "operation completed without a video URL")
		}
		return generator.Completed(resp.VideoURL)
	default:
		return c.policy.Classify(raw, code, msg)
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
		return 0, fmt.Errorf("videogen: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("videogen: %s cancelled: %w", op, ctx.Err())
		}
		return 0, &generator.CallError{Op: op, Kind: generator.KindTransient, Err: fmt.Errorf("videogen: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err == nil && len(respBody) > maxResponseBytes {
		return resp.StatusCode, &generator.CallError{Op: op, Kind: generator.KindFatal, StatusCode: resp.StatusCode, Err: ErrResponseTooLarge}
	}
	if err != nil {
		return resp.StatusCode, &generator.CallError{Op: op, Kind: generator.KindTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("videogen: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &generator.CallError{
			Op:         op,
			Kind:       generator.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: generator.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Err:        fmt.Errorf("%w: %s", ErrRequestFailed, strings.TrimSpace(string(respBody))),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, &generator.CallError{Op: op, Kind: generator.KindFatal, StatusCode: resp.StatusCode, Err: fmt.Errorf("videogen: unmarshal response: %w", err)}
		}
	}

	return resp.StatusCode, nil
}
