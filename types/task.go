package types

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents a task's position in its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskDispatched TaskStatus = "dispatched"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final. Every task reaches exactly
// one terminal status.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Prompt is the payload handed to a model backend.
type Prompt struct {
	System      string  `json:"system,omitempty"`
	User        string  `json:"user"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Task is a unit of work submitted by a caller. Status is mutated by the
// dispatcher; a task is owned by at most one worker at a time.
type Task struct {
	ID          string     `json:"id"`
	Role        string     `json:"role,omitempty"`
	Prompt      Prompt     `json:"prompt"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Status      TaskStatus `json:"status"`
}

// NewTask creates a pending task with a fresh id.
func NewTask(role string, prompt Prompt) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Role:        role,
		Prompt:      prompt,
		SubmittedAt: time.Now(),
		Status:      TaskPending,
	}
}

// TokenUsage reports the token consumption of one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the payload a backend returns for a task.
type Completion struct {
	Content string     `json:"content"`
	Model   string     `json:"model,omitempty"`
	Usage   TokenUsage `json:"usage"`
}

// Result is the terminal outcome of one task. Exactly one of Completion and
// Err is set.
type Result struct {
	TaskID     string        `json:"task_id"`
	Status     TaskStatus    `json:"status"`
	Completion *Completion   `json:"completion,omitempty"`
	Err        *Error        `json:"error,omitempty"`
	Backend    string        `json:"backend,omitempty"`
	Latency    time.Duration `json:"latency"`
	RetryCount int           `json:"retry_count"`
}

// Succeeded reports whether the result carries a completion.
func (r *Result) Succeeded() bool {
	return r.Status == TaskSucceeded
}

// NewSuccessResult builds a succeeded result for the given task.
func NewSuccessResult(taskID, backend string, c *Completion, latency time.Duration, retries int) *Result {
	return &Result{
		TaskID:     taskID,
		Status:     TaskSucceeded,
		Completion: c,
		Backend:    backend,
		Latency:    latency,
		RetryCount: retries,
	}
}

// NewFailureResult builds a failed result carrying a structured error.
func NewFailureResult(taskID, backend string, err *Error, latency time.Duration, retries int) *Result {
	return &Result{
		TaskID:     taskID,
		Status:     TaskFailed,
		Err:        err,
		Backend:    backend,
		Latency:    latency,
		RetryCount: retries,
	}
}
