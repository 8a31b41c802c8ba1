package backend

import (
	"encoding/json"
	"time"
)

// Status represents a backend's health state.
type Status int

const (
	// StatusHealthy means the backend serves traffic normally.
	StatusHealthy Status = iota
	// StatusDegraded means the backend is on probation: selectable as a
	// fallback, with concurrency limited to ProbationConcurrent.
	StatusDegraded
	// StatusUnavailable means the backend is cooling down and must not be
	// selected until the cool-down elapses.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config tunes the health state machine shared by all backends in a
// registry.
type Config struct {
	// FailureThreshold is the number of consecutive failures that moves a
	// healthy backend to degraded.
	FailureThreshold int

	// TripThreshold is the number of consecutive failures that moves a
	// degraded backend to unavailable.
	TripThreshold int

	// CoolDown is how long an unavailable backend stays ineligible before
	// re-entering probation.
	CoolDown time.Duration

	// RecoverySuccesses is the number of consecutive successes that returns
	// a degraded backend to healthy.
	RecoverySuccesses int

	// ProbationConcurrent caps concurrent calls admitted while degraded.
	ProbationConcurrent int

	// OnStateChange is invoked after every transition.
	OnStateChange func(id string, from, to Status)
}

// DefaultConfig returns the default health machine tuning.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:    5,
		TripThreshold:       2,
		CoolDown:            30 * time.Second,
		RecoverySuccesses:   3,
		ProbationConcurrent: 2,
	}
}

// tracker holds per-backend health state. All methods are called with the
// registry mutex held.
type tracker struct {
	status          Status
	consecFailures  int
	consecSuccesses int
	trippedAt       time.Time
	probesInFlight  int
}

// promote moves an unavailable tracker to degraded once the cool-down has
// elapsed. Returns the effective status.
func (t *tracker) promote(cfg *Config, now time.Time) Status {
	if t.status == StatusUnavailable && now.Sub(t.trippedAt) >= cfg.CoolDown {
		t.transition(StatusDegraded)
		t.consecFailures = 0
		t.consecSuccesses = 0
		t.probesInFlight = 0
	}
	return t.status
}

func (t *tracker) recordSuccess(cfg *Config) (from, to Status) {
	from = t.status
	t.consecFailures = 0
	t.consecSuccesses++

	if t.status == StatusDegraded && t.consecSuccesses >= cfg.RecoverySuccesses {
		t.transition(StatusHealthy)
		t.consecSuccesses = 0
		t.probesInFlight = 0
	}
	return from, t.status
}

func (t *tracker) recordFailure(cfg *Config, now time.Time) (from, to Status) {
	from = t.status
	t.consecSuccesses = 0
	t.consecFailures++

	switch t.status {
	case StatusHealthy:
		if t.consecFailures >= cfg.FailureThreshold {
			t.transition(StatusDegraded)
			t.consecFailures = 0
		}
	case StatusDegraded:
		if t.consecFailures >= cfg.TripThreshold {
			t.transition(StatusUnavailable)
			t.trippedAt = now
			t.consecFailures = 0
			t.probesInFlight = 0
		}
	case StatusUnavailable:
		// Late outcome from a call admitted before the trip; the cool-down
		// clock is not extended.
	}
	return from, t.status
}

func (t *tracker) transition(to Status) {
	t.status = to
}

func (t *tracker) coolDownRemaining(cfg *Config, now time.Time) time.Duration {
	if t.status != StatusUnavailable {
		return 0
	}
	remaining := cfg.CoolDown - now.Sub(t.trippedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
