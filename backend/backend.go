package backend

import (
	"context"
	"time"

	"github.com/neocore-ai/swarm/types"
)

// Caller issues a task to one remote worker endpoint. Implementations own
// transport, credentials and error mapping; errors must be *types.Error so
// the dispatcher can classify them as transient or permanent.
type Caller interface {
	// Invoke executes the task's prompt against the remote endpoint.
	Invoke(ctx context.Context, task *types.Task) (*types.Completion, error)

	// Ping performs a lightweight reachability check.
	Ping(ctx context.Context) error
}

// Backend describes one registered remote worker: its transport and its
// capacity limits. Health state lives in the registry, not here.
type Backend struct {
	// ID uniquely identifies the backend within the registry.
	ID string

	// Caller is the transport used to reach the endpoint.
	Caller Caller

	// MaxConcurrent caps in-flight requests on this backend.
	MaxConcurrent int64

	// RequestsPerSec caps sustained request volume. Zero means unlimited.
	RequestsPerSec float64

	// Burst is the token-bucket burst size. Defaults to MaxConcurrent when
	// zero.
	Burst int
}

// Snapshot is a point-in-time view of one registered backend, safe to hand
// out without exposing registry internals.
type Snapshot struct {
	ID                   string        `json:"id"`
	Status               Status        `json:"status"`
	MaxConcurrent        int64         `json:"max_concurrent"`
	RequestsPerSec       float64       `json:"requests_per_sec"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	CoolDownRemaining    time.Duration `json:"cool_down_remaining,omitempty"`
}
