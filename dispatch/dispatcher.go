// Package dispatch routes single tasks onto registered backends.
//
// A Dispatcher picks a backend by round-robin over the currently eligible
// set (healthy first, degraded as fallback), acquires a limiter lease,
// issues the call under a per-call deadline, and feeds the outcome back
// into the health machine. Transient failures are retried with capped
// exponential backoff; permanent failures surface immediately.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/backend"
	"github.com/neocore-ai/swarm/limiter"
	"github.com/neocore-ai/swarm/types"
)

// Config tunes dispatcher behavior.
type Config struct {
	// CallTimeout bounds each individual backend call.
	CallTimeout time.Duration

	// Retry paces re-dispatch after transient failures.
	Retry *Policy
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		CallTimeout: 30 * time.Second,
		Retry:       DefaultPolicy(),
	}
}

// Dispatcher routes tasks to backends and owns the retry loop.
type Dispatcher struct {
	cfg      *Config
	registry *backend.Registry
	limiter  *limiter.Limiter
	logger   *zap.Logger

	rrIdx atomic.Uint64
}

// NewDispatcher creates a dispatcher on top of a registry and a limiter.
func NewDispatcher(reg *backend.Registry, lim *limiter.Limiter, cfg *Config, logger *zap.Logger) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultPolicy()
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		cfg:      cfg,
		registry: reg,
		limiter:  lim,
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch runs a task to completion against the candidate backends and
// returns a terminal result. A nil or empty candidate list means every
// registered backend is a candidate. Dispatch never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, task *types.Task, candidates []string) *types.Result {
	start := time.Now()
	task.Status = types.TaskDispatched

	var lastErr *types.Error
	attemptsMade := 0

	for attempt := 1; attempt <= d.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := d.cfg.Retry.delay(attempt - 1)
			if d.cfg.Retry.OnRetry != nil {
				d.cfg.Retry.OnRetry(attempt, lastErr, delay)
			}
			d.logger.Debug("retrying task",
				zap.String("task_id", task.ID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleepFor(ctx, delay); err != nil {
				lastErr = types.NewUpstreamTimeoutError("dispatch canceled during backoff").
					WithCause(err).WithRetryable(false)
				break
			}
		}

		attemptsMade = attempt
		completion, backendID, err := d.attempt(ctx, task, candidates)
		if err == nil {
			if attempt > 1 {
				d.logger.Info("task succeeded after retry",
					zap.String("task_id", task.ID),
					zap.String("backend", backendID),
					zap.Int("attempt", attempt))
			}
			task.Status = types.TaskSucceeded
			return types.NewSuccessResult(task.ID, backendID, completion, time.Since(start), attempt-1)
		}

		lastErr = err
		if !err.Retryable {
			task.Status = types.TaskFailed
			d.logger.Warn("task failed",
				zap.String("task_id", task.ID),
				zap.String("backend", err.Backend),
				zap.String("code", string(err.Code)),
				zap.Int("attempt", attempt))
			return types.NewFailureResult(task.ID, err.Backend, err, time.Since(start), attempt-1)
		}
	}

	if lastErr == nil {
		lastErr = types.NewInternalError("dispatch exhausted without an error")
	}
	retries := attemptsMade - 1
	if retries < 0 {
		retries = 0
	}
	task.Status = types.TaskFailed
	d.logger.Warn("task failed after all attempts",
		zap.String("task_id", task.ID),
		zap.String("backend", lastErr.Backend),
		zap.String("code", string(lastErr.Code)),
		zap.Int("attempts", attemptsMade))
	return types.NewFailureResult(task.ID, lastErr.Backend, lastErr, time.Since(start), retries)
}

// attempt makes a single dispatch pass: pick a backend, take a lease, call.
// On limiter timeout or admission rejection it falls through to the next
// eligible backend before giving up.
func (d *Dispatcher) attempt(ctx context.Context, task *types.Task, candidates []string) (*types.Completion, string, *types.Error) {
	eligible := d.eligible(candidates)
	if len(eligible) == 0 {
		return nil, "", types.NewNoBackendAvailableError()
	}

	rotate := int(d.rrIdx.Add(1)-1) % len(eligible)

	var lastErr *types.Error
	for i := 0; i < len(eligible); i++ {
		id := eligible[(rotate+i)%len(eligible)]

		b, ok := d.registry.Get(id)
		if !ok {
			continue
		}

		lease, err := d.limiter.Acquire(ctx, id)
		if err != nil {
			lastErr = types.AsError(err)
			d.logger.Debug("lease unavailable, trying next backend",
				zap.String("task_id", task.ID),
				zap.String("backend", id),
				zap.Error(err))
			continue
		}

		if err := d.registry.Admit(id); err != nil {
			lease.Release()
			lastErr = types.AsError(err)
			continue
		}

		completion, callErr := d.call(ctx, b, task)
		lease.Release()

		if callErr == nil {
			d.registry.Done(id, true)
			return completion, id, nil
		}

		// Client-side rejections say nothing about backend health, so
		// they count as a served call rather than a failure.
		d.registry.Done(id, !callErr.Retryable)

		return nil, id, callErr.WithBackend(id)
	}

	return nil, "", lastErr
}

// call invokes the backend under the per-call deadline and normalizes the
// error into the shared taxonomy.
func (d *Dispatcher) call(ctx context.Context, b *backend.Backend, task *types.Task) (*types.Completion, *types.Error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	completion, err := b.Caller.Invoke(callCtx, task)
	if err == nil {
		return completion, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return nil, types.NewUpstreamTimeoutError("backend call deadline exceeded").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return nil, types.NewUpstreamTimeoutError("backend call canceled").
			WithCause(err).WithRetryable(false)
	}

	return nil, types.AsError(err)
}

// eligible returns the ids a task may run on right now: all healthy
// candidates, or all degraded candidates when no healthy one exists.
func (d *Dispatcher) eligible(candidates []string) []string {
	var allowed map[string]struct{}
	if len(candidates) > 0 {
		allowed = make(map[string]struct{}, len(candidates))
		for _, id := range candidates {
			allowed[id] = struct{}{}
		}
	}

	pick := func(status backend.Status) []string {
		snaps := d.registry.List(func(s backend.Snapshot) bool {
			if s.Status != status {
				return false
			}
			if allowed == nil {
				return true
			}
			_, ok := allowed[s.ID]
			return ok
		})
		ids := make([]string, len(snaps))
		for i, s := range snaps {
			ids[i] = s.ID
		}
		return ids
	}

	if healthy := pick(backend.StatusHealthy); len(healthy) > 0 {
		return healthy
	}
	return pick(backend.StatusDegraded)
}
