package api

import "time"

// =============================================================================
// Batch dispatch types
// =============================================================================

// BatchRequest carries an ordered list of tasks for one dispatch batch.
type BatchRequest struct {
	// Tasks to dispatch. Order is significant: the response carries one
	// result per task at the same index.
	Tasks []TaskPayload `json:"tasks"`
}

// TaskPayload is one unit of work inside a batch request.
type TaskPayload struct {
	// Role optionally labels the task (e.g. an advisor name). Informational.
	Role string `json:"role,omitempty"`
	// Prompt is the payload handed to the selected backend.
	Prompt PromptPayload `json:"prompt"`
}

// PromptPayload mirrors the prompt handed to a model backend.
type PromptPayload struct {
	System      string  `json:"system,omitempty"`
	User        string  `json:"user"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// BatchResponse reports the outcome of one batch, index-aligned with the
// submitted tasks.
type BatchResponse struct {
	// BatchID identifies this batch in logs and traces.
	BatchID string `json:"batch_id"`
	// Results holds exactly one entry per submitted task, same order.
	Results []TaskResult `json:"results"`
	// Succeeded and Failed count terminal task outcomes.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// TimingMS is the wall-clock duration of the whole batch.
	TimingMS int64 `json:"timing_ms"`
}

// TaskResult is the terminal outcome of one task.
type TaskResult struct {
	TaskID string `json:"task_id"`
	// Status is "succeeded" or "failed".
	Status string `json:"status"`
	// Content is the completion text. Set only on success.
	Content string `json:"content,omitempty"`
	// Model reports the concrete model that produced the completion.
	Model string `json:"model,omitempty"`
	// Usage reports token consumption when the backend provided it.
	Usage *Usage `json:"usage,omitempty"`
	// Error describes the failure. Set only on failure.
	Error *ErrorDetail `json:"error,omitempty"`
	// Backend is the id of the backend that served (or last attempted) the
	// task. Empty when no call was ever attempted.
	Backend string `json:"backend,omitempty"`
	// LatencyMS is the task's end-to-end dispatch time.
	LatencyMS int64 `json:"latency_ms"`
	// RetryCount is the number of retries after the first attempt.
	RetryCount int `json:"retry_count"`
}

// Usage reports token consumption of one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorDetail is the wire form of a structured task error.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Backend   string `json:"backend,omitempty"`
}

// =============================================================================
// Council decide types
// =============================================================================

// DecideRequest puts one question before the council.
type DecideRequest struct {
	Question string `json:"question"`
	// ThreadID optionally correlates related decisions.
	ThreadID string `json:"thread_id,omitempty"`
}

// =============================================================================
// Health and version types
// =============================================================================

// HealthResponse is the /health payload: service liveness plus the current
// state of every registered backend.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version,omitempty"`
	Backends  []BackendHealth `json:"backends"`
}

// BackendHealth is the wire form of one backend's health snapshot.
type BackendHealth struct {
	ID                   string  `json:"id"`
	Status               string  `json:"status"`
	MaxConcurrent        int64   `json:"max_concurrent"`
	RequestsPerSec       float64 `json:"requests_per_sec,omitempty"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	// CoolDownRemainingMS is non-zero only while the backend is unavailable.
	CoolDownRemainingMS int64 `json:"cool_down_remaining_ms,omitempty"`
}

// VersionResponse is the /version payload.
type VersionResponse struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}
