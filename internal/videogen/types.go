// Package videogen provides an HTTP client for the asynchronous video
// generation service. Every call is a single attempt; errors are classified
// as generator.CallError so callers can decide whether to retry.
package videogen

// Raw operation statuses returned by the service.
const (
	rawPending   = "PENDING"
	rawQueued    = "QUEUED"
	rawRunning   = "RUNNING"
	rawSucceeded = "SUCCEEDED"
	rawCompleted = "COMPLETED"
	rawNotFound  = "NOT_FOUND"
)

// createRequest represents the request body for the create-operation endpoint.
type createRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// createResponse represents the response from the create-operation endpoint.
type createResponse struct {
	OperationID string    `json:"operation_id"`
	Error       *apiError `json:"error,omitempty"`
}

// operationResponse represents the response from the operation status endpoint.
type operationResponse struct {
	OperationID string    `json:"operation_id"`
	Status      string    `json:"status"`
	VideoURL    string    `json:"video_url,omitempty"`
	Error       *apiError `json:"error,omitempty"`
}

// apiError is the error object embedded in service responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
