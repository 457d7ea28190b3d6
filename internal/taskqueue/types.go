// Package taskqueue provides a generation backend for hosted task queues.
// A prompt is enqueued as a task; the task's status endpoint reports its
// state and, once finished, the URL of the produced video.
package taskqueue

// Raw task statuses reported by the queue.
const (
	rawPending   = "PENDING"
	rawRunning   = "RUNNING"
	rawCompleted = "COMPLETED"
	rawComplete  = "COMPLETE" // some deployments answer COMPLETE instead of COMPLETED
	rawCanceled  = "CANCELED"
	rawNotFound  = "NOT_FOUND"
)

// taskRequest is the body sent to the queue endpoint.
type taskRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// taskResponse is the answer to an enqueue request.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse is the answer of the task status endpoint.
type statusResponse struct {
	TaskID    string       `json:"task_id"`
	Status    string       `json:"status"`
	Outputs   []taskOutput `json:"outputs,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorCode string       `json:"error_code,omitempty"`
}

// taskOutput is a single file produced by a task.
type taskOutput struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}
