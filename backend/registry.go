package backend

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/types"
)

// Registry is a thread-safe registry of remote worker backends and the
// single writer of their health state. It is constructed once at startup and
// shared by every in-flight dispatch.
type Registry struct {
	cfg    *Config
	logger *zap.Logger

	mu       sync.RWMutex
	backends map[string]*entry
	order    []string

	now func() time.Time
}

type entry struct {
	backend *Backend
	health  tracker
}

// NewRegistry creates an empty Registry. A nil config uses DefaultConfig;
// out-of-range fields are clamped to their defaults.
func NewRegistry(cfg *Config, logger *zap.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.TripThreshold <= 0 {
		cfg.TripThreshold = 2
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.RecoverySuccesses <= 0 {
		cfg.RecoverySuccesses = 3
	}
	if cfg.ProbationConcurrent <= 0 {
		cfg.ProbationConcurrent = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "backend_registry")),
		backends: make(map[string]*entry),
		now:      time.Now,
	}
}

// Register adds a backend. Registration fails with DUPLICATE_BACKEND if the
// id is already taken. New backends start healthy.
func (r *Registry) Register(b *Backend) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("backend id required")
	}
	if b.Caller == nil {
		return fmt.Errorf("backend %q has no caller", b.ID)
	}
	if b.MaxConcurrent <= 0 {
		b.MaxConcurrent = 1
	}
	if b.Burst <= 0 {
		b.Burst = int(b.MaxConcurrent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.ID]; exists {
		return types.NewDuplicateBackendError(b.ID)
	}

	r.backends[b.ID] = &entry{backend: b, health: tracker{status: StatusHealthy}}
	r.order = append(r.order, b.ID)

	r.logger.Info("backend registered",
		zap.String("backend", b.ID),
		zap.Int64("max_concurrent", b.MaxConcurrent),
		zap.Float64("requests_per_sec", b.RequestsPerSec),
	)
	return nil
}

// Unregister removes a backend from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[id]; !ok {
		return
	}
	delete(r.backends, id)
	for i, name := range r.order {
		if name == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get retrieves a backend by id.
func (r *Registry) Get(id string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.backends[id]
	if !ok {
		return nil, false
	}
	return e.backend, true
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// List returns snapshots of all backends matching pred, in registration
// order. A nil pred matches everything. Cool-downs that have elapsed are
// applied before the predicate runs, so an unavailable backend whose
// cool-down passed shows up as degraded.
func (r *Registry) List(pred func(Snapshot) bool) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		e := r.backends[id]
		before := e.health.status
		if st := e.health.promote(r.cfg, now); st != before {
			r.observe(id, before, st)
		}
		snap := r.snapshotLocked(id, e, now)
		if pred == nil || pred(snap) {
			out = append(out, snap)
		}
	}
	return out
}

// Snapshot returns all backends in registration order.
func (r *Registry) Snapshot() []Snapshot {
	return r.List(nil)
}

// Health returns the effective health status of one backend.
func (r *Registry) Health(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.backends[id]
	if !ok {
		return StatusUnavailable, types.NewBackendNotFoundError(id)
	}
	before := e.health.status
	st := e.health.promote(r.cfg, r.now())
	if st != before {
		r.observe(id, before, st)
	}
	return st, nil
}

// MarkHealth force-sets a backend's health status, resetting its streak
// counters. Marking unavailable starts a fresh cool-down.
func (r *Registry) MarkHealth(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.backends[id]
	if !ok {
		return types.NewBackendNotFoundError(id)
	}

	before := e.health.status
	e.health.status = status
	e.health.consecFailures = 0
	e.health.consecSuccesses = 0
	e.health.probesInFlight = 0
	if status == StatusUnavailable {
		e.health.trippedAt = r.now()
	}
	if before != status {
		r.observe(id, before, status)
	}
	return nil
}

// RecordSuccess feeds a successful call outcome into the health machine.
func (r *Registry) RecordSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.backends[id]
	if !ok {
		return
	}
	if from, to := e.health.recordSuccess(r.cfg); from != to {
		r.observe(id, from, to)
	}
}

// RecordFailure feeds a failed call outcome into the health machine.
func (r *Registry) RecordFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.backends[id]
	if !ok {
		return
	}
	if from, to := e.health.recordFailure(r.cfg, r.now()); from != to {
		r.observe(id, from, to)
	}
}

// Admit gates a call before it is issued. Unavailable backends are rejected
// until their cool-down elapses; degraded backends admit at most
// ProbationConcurrent concurrent calls. Every successful Admit must be
// balanced by Done.
func (r *Registry) Admit(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.backends[id]
	if !ok {
		return types.NewBackendNotFoundError(id)
	}

	before := e.health.status
	st := e.health.promote(r.cfg, r.now())
	if st != before {
		r.observe(id, before, st)
	}

	switch st {
	case StatusHealthy:
		return nil
	case StatusDegraded:
		if e.health.probesInFlight >= r.cfg.ProbationConcurrent {
			return types.NewBackendSaturatedError(id)
		}
		e.health.probesInFlight++
		return nil
	case StatusUnavailable:
		return types.NewBackendUnavailableError(id)
	default:
		return types.NewInternalError(fmt.Sprintf("unknown health status %d", st))
	}
}

// Done reports the outcome of a call admitted via Admit, releasing the
// probation slot if one was held and driving the health machine.
func (r *Registry) Done(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.backends[id]
	if !ok {
		return
	}
	if e.health.probesInFlight > 0 {
		e.health.probesInFlight--
	}

	var from, to Status
	if success {
		from, to = e.health.recordSuccess(r.cfg)
	} else {
		from, to = e.health.recordFailure(r.cfg, r.now())
	}
	if from != to {
		r.observe(id, from, to)
	}
}

func (r *Registry) snapshotLocked(id string, e *entry, now time.Time) Snapshot {
	return Snapshot{
		ID:                   id,
		Status:               e.health.status,
		MaxConcurrent:        e.backend.MaxConcurrent,
		RequestsPerSec:       e.backend.RequestsPerSec,
		ConsecutiveFailures:  e.health.consecFailures,
		ConsecutiveSuccesses: e.health.consecSuccesses,
		CoolDownRemaining:    e.health.coolDownRemaining(r.cfg, now),
	}
}

// observe logs a health transition and fires the configured callback.
// Called with the registry mutex held; the callback runs on its own
// goroutine so it cannot deadlock back into the registry.
func (r *Registry) observe(id string, from, to Status) {
	if to == StatusHealthy {
		r.logger.Info("backend recovered",
			zap.String("backend", id),
			zap.String("from", from.String()),
		)
	} else if from == StatusUnavailable && to == StatusDegraded {
		r.logger.Info("backend entering probation",
			zap.String("backend", id),
		)
	} else {
		r.logger.Warn("backend health transition",
			zap.String("backend", id),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	if r.cfg.OnStateChange != nil {
		go r.cfg.OnStateChange(id, from, to)
	}
}
