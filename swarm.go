// Package swarm assembles the task dispatch core with minimal boilerplate:
// a backend registry with health tracking, a per-backend rate/concurrency
// limiter, a retrying dispatcher, a batch coordinator, and the council
// decide pipeline, all wired together behind one Engine.
//
// Usage:
//
//	import "github.com/neocore-ai/swarm"
//
//	eng := swarm.New(swarm.WithLogger(logger))
//	defer eng.Close()
//
//	err := eng.AddBackend(&backend.Backend{ID: "gpt4-east", Caller: caller, MaxConcurrent: 4})
//	results, err := eng.Submit(ctx, tasks)
//
// The sub-packages remain usable on their own; the Engine only spares
// callers the wiring.
package swarm

import (
	"context"

	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/backend"
	"github.com/neocore-ai/swarm/batch"
	"github.com/neocore-ai/swarm/council"
	"github.com/neocore-ai/swarm/dispatch"
	"github.com/neocore-ai/swarm/limiter"
	"github.com/neocore-ai/swarm/types"
)

// Option configures the Engine created by [New].
type Option func(*options)

type options struct {
	logger      *zap.Logger
	healthCfg   *backend.Config
	limiterCfg  *limiter.Config
	dispatchCfg *dispatch.Config
	batchCfg    *batch.Config
	councilCfg  *council.Config
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHealthConfig tunes the health state machine (failure thresholds,
// cool-down, probation).
func WithHealthConfig(cfg *backend.Config) Option {
	return func(o *options) { o.healthCfg = cfg }
}

// WithLimiterConfig tunes lease acquisition (bounded wait, wait observer).
func WithLimiterConfig(cfg *limiter.Config) Option {
	return func(o *options) { o.limiterCfg = cfg }
}

// WithDispatchConfig tunes per-call deadlines and the retry policy.
func WithDispatchConfig(cfg *dispatch.Config) Option {
	return func(o *options) { o.dispatchCfg = cfg }
}

// WithBatchConfig tunes batch execution (workers, queue, batch deadline).
func WithBatchConfig(cfg *batch.Config) Option {
	return func(o *options) { o.batchCfg = cfg }
}

// WithCouncilConfig tunes the decide pipeline (roster, adversarial pass,
// token budgets).
func WithCouncilConfig(cfg *council.Config) Option {
	return func(o *options) { o.councilCfg = cfg }
}

// Engine bundles the dispatch core. Create one per process with [New],
// register backends, then Submit batches or Decide questions.
type Engine struct {
	registry    *backend.Registry
	limiter     *limiter.Limiter
	dispatcher  *dispatch.Dispatcher
	coordinator *batch.Coordinator
	council     *council.Service
	logger      *zap.Logger
}

// New assembles an Engine from the given options.
func New(opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	reg := backend.NewRegistry(o.healthCfg, o.logger)
	lim := limiter.NewLimiter(o.limiterCfg, o.logger)
	disp := dispatch.NewDispatcher(reg, lim, o.dispatchCfg, o.logger)
	coord := batch.NewCoordinator(reg, disp, o.batchCfg, o.logger)
	cncl := council.NewService(coord, disp, o.councilCfg, o.logger)

	return &Engine{
		registry:    reg,
		limiter:     lim,
		dispatcher:  disp,
		coordinator: coord,
		council:     cncl,
		logger:      o.logger,
	}
}

// AddBackend registers a backend in the registry and creates its limiter
// gate. Duplicate ids return DUPLICATE_BACKEND and leave the limiter
// untouched.
func (e *Engine) AddBackend(b *backend.Backend) error {
	if err := e.registry.Register(b); err != nil {
		return err
	}
	e.limiter.Register(b.ID, b.MaxConcurrent, b.RequestsPerSec, b.Burst)
	return nil
}

// RemoveBackend drops a backend from selection. In-flight calls finish on
// their existing leases.
func (e *Engine) RemoveBackend(id string) {
	e.registry.Unregister(id)
}

// Dispatch runs one task to a terminal result.
func (e *Engine) Dispatch(ctx context.Context, task *types.Task) *types.Result {
	return e.dispatcher.Dispatch(ctx, task, nil)
}

// Submit runs an ordered batch of tasks and returns index-aligned results.
func (e *Engine) Submit(ctx context.Context, tasks []*types.Task) ([]*types.Result, error) {
	return e.coordinator.Submit(ctx, tasks)
}

// Decide puts one question before the council.
func (e *Engine) Decide(ctx context.Context, in council.DecideInput) (*council.Decision, error) {
	return e.council.Decide(ctx, in)
}

// Registry exposes the backend registry for health inspection and manual
// state control.
func (e *Engine) Registry() *backend.Registry {
	return e.registry
}

// Limiter exposes the limiter for in-flight inspection.
func (e *Engine) Limiter() *limiter.Limiter {
	return e.limiter
}

// Coordinator exposes the batch coordinator, e.g. for Stats.
func (e *Engine) Coordinator() *batch.Coordinator {
	return e.coordinator
}

// Council exposes the decide pipeline service.
func (e *Engine) Council() *council.Service {
	return e.council
}

// Close stops accepting batches and drains queued dispatches.
func (e *Engine) Close() {
	e.coordinator.Close()
}
