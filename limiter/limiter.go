// Package limiter enforces per-backend rate and concurrency limits. Each
// backend gets a token bucket for request volume composed with a counting
// semaphore for in-flight calls; capacity is held through a Lease that must
// be released exactly once, with double release tolerated as a no-op.
package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/neocore-ai/swarm/types"
)

// Config tunes limiter behavior shared by all gates.
type Config struct {
	// AcquireTimeout bounds how long one Acquire may wait for capacity.
	AcquireTimeout time.Duration

	// OnWait, when set, observes how long each granted acquire blocked.
	OnWait func(backendID string, wait time.Duration)
}

// DefaultConfig returns the default limiter tuning.
func DefaultConfig() *Config {
	return &Config{AcquireTimeout: 2 * time.Second}
}

// Limiter gates calls per backend. Acquire blocks until both a concurrency
// slot and a rate token are held, or the bounded wait fires.
type Limiter struct {
	cfg    *Config
	logger *zap.Logger

	mu    sync.RWMutex
	gates map[string]*gate
}

type gate struct {
	sem      *semaphore.Weighted
	bucket   *rate.Limiter // nil means no rate limit
	inFlight atomic.Int64
}

// NewLimiter creates an empty Limiter. A nil config uses DefaultConfig.
func NewLimiter(cfg *Config, logger *zap.Logger) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "limiter")),
		gates:  make(map[string]*gate),
	}
}

// Register creates the gate for a backend. Registering an existing id
// replaces its gate; leases issued against the old gate release into the old
// gate and cannot over-free the new one.
func (l *Limiter) Register(id string, maxConcurrent int64, perSec float64, burst int) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if burst <= 0 {
		burst = int(maxConcurrent)
	}

	g := &gate{sem: semaphore.NewWeighted(maxConcurrent)}
	if perSec > 0 {
		g.bucket = rate.NewLimiter(rate.Limit(perSec), burst)
	}

	l.mu.Lock()
	l.gates[id] = g
	l.mu.Unlock()
}

// Acquire obtains a lease on the backend, waiting at most AcquireTimeout
// (and no longer than ctx allows) for a concurrency slot and a rate token.
// Failure returns a LIMITER_TIMEOUT error and leaves no capacity held.
func (l *Limiter) Acquire(ctx context.Context, backendID string) (*Lease, error) {
	l.mu.RLock()
	g, ok := l.gates[backendID]
	l.mu.RUnlock()
	if !ok {
		return nil, types.NewBackendNotFoundError(backendID)
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		l.logger.Debug("lease acquire timed out on concurrency slot",
			zap.String("backend", backendID),
			zap.Duration("waited", time.Since(start)),
		)
		return nil, types.NewLimiterTimeoutError(backendID, l.cfg.AcquireTimeout).WithCause(err)
	}

	if g.bucket != nil {
		if err := g.bucket.Wait(waitCtx); err != nil {
			g.sem.Release(1)
			l.logger.Debug("lease acquire timed out on rate token",
				zap.String("backend", backendID),
				zap.Duration("waited", time.Since(start)),
			)
			return nil, types.NewLimiterTimeoutError(backendID, l.cfg.AcquireTimeout).WithCause(err)
		}
	}

	wait := time.Since(start)
	if l.cfg.OnWait != nil {
		l.cfg.OnWait(backendID, wait)
	}

	g.inFlight.Add(1)
	return &Lease{
		ID:        uuid.NewString(),
		BackendID: backendID,
		Wait:      wait,
		gate:      g,
	}, nil
}

// Release frees the lease's capacity. Equivalent to lease.Release.
func (l *Limiter) Release(lease *Lease) {
	lease.Release()
}

// InFlight reports the number of outstanding leases for a backend.
func (l *Limiter) InFlight(backendID string) int64 {
	l.mu.RLock()
	g, ok := l.gates[backendID]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return g.inFlight.Load()
}

// Lease is a permit for one in-flight call on one backend.
type Lease struct {
	ID        string
	BackendID string

	// Wait is how long the acquire blocked before capacity was granted.
	Wait time.Duration

	gate     *gate
	released atomic.Bool
}

// Release returns the lease's capacity. The first call frees exactly one
// slot; every subsequent call is a no-op, so concurrent failure paths may
// release the same lease without over-freeing.
func (le *Lease) Release() {
	if le == nil || le.released.Swap(true) {
		return
	}
	le.gate.inFlight.Add(-1)
	le.gate.sem.Release(1)
}
