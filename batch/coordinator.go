// Package batch fans task batches out across the dispatcher with bounded
// parallelism and a global per-batch deadline.
package batch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/backend"
	"github.com/neocore-ai/swarm/internal/pool"
	"github.com/neocore-ai/swarm/types"
)

// Dispatcher routes one task to a terminal result.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *types.Task, candidates []string) *types.Result
}

// Config tunes batch execution.
type Config struct {
	// Workers caps the number of tasks dispatched in parallel, across all
	// concurrently submitted batches.
	Workers int

	// QueueSize is the capacity of the shared dispatch queue.
	QueueSize int

	// BatchTimeout is the global deadline for one Submit call. A tighter
	// caller deadline wins.
	BatchTimeout time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      8,
		QueueSize:    1024,
		BatchTimeout: 2 * time.Minute,
	}
}

// Coordinator runs batches of tasks and preserves input order in the
// returned results.
type Coordinator struct {
	cfg        *Config
	registry   *backend.Registry
	dispatcher Dispatcher
	pool       *pool.WorkerPool
	logger     *zap.Logger
	closed     atomic.Bool

	batches  atomic.Int64
	tasks    atomic.Int64
	timeouts atomic.Int64
}

// NewCoordinator creates a coordinator over a registry and a dispatcher.
func NewCoordinator(reg *backend.Registry, d Dispatcher, cfg *Config, logger *zap.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		cfg:        cfg,
		registry:   reg,
		dispatcher: d,
		logger:     logger.With(zap.String("component", "batch_coordinator")),
	}
	c.pool = pool.New(pool.Config{
		MaxWorkers: cfg.Workers,
		QueueSize:  cfg.QueueSize,
		PanicHandler: func(v any) {
			c.logger.Error("dispatch panicked", zap.Any("panic", v))
		},
	})
	return c
}

// Submit dispatches every task in the batch and returns one result per task,
// index-aligned with the input. Individual task failures do not abort the
// batch; the returned error is reserved for whole-batch conditions (closed
// coordinator, empty registry, batch deadline).
//
// When the deadline fires, tasks that have not finished are reported as
// failed with a batch-timeout error. Calls already in flight keep running on
// a detached context; their late results are dropped.
func (c *Coordinator) Submit(ctx context.Context, batch []*types.Task) ([]*types.Result, error) {
	if c.closed.Load() {
		return nil, types.NewError(types.ErrBatchClosed, "batch coordinator is closed").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	if len(batch) == 0 {
		return []*types.Result{}, nil
	}
	if c.registry.Len() == 0 {
		return nil, types.NewNoBackendAvailableError()
	}

	c.batches.Add(1)
	c.tasks.Add(int64(len(batch)))
	start := time.Now()

	batchCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()

	// Dispatches keep running when the batch deadline fires: they are
	// detached from batchCtx and bounded by their own call deadlines.
	dispatchCtx := context.WithoutCancel(batchCtx)

	var (
		mu      sync.Mutex
		sealed  bool
		results = make([]*types.Result, len(batch))
		started = make([]bool, len(batch))
		wg      sync.WaitGroup
	)

	for i, task := range batch {
		wg.Add(1)
		err := c.pool.Submit(dispatchCtx, func(runCtx context.Context) error {
			defer wg.Done()

			mu.Lock()
			if sealed {
				mu.Unlock()
				return nil
			}
			started[i] = true
			mu.Unlock()

			res := c.dispatcher.Dispatch(runCtx, task, nil)

			mu.Lock()
			if !sealed {
				results[i] = res
			}
			mu.Unlock()

			if res.Err != nil {
				return res.Err
			}
			return nil
		})
		if err != nil {
			wg.Done()
			task.Status = types.TaskFailed
			results[i] = types.NewFailureResult(task.ID, "",
				types.NewInternalError("dispatch queue rejected task").WithCause(err), 0, 0)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		c.logger.Debug("batch completed",
			zap.Int("batch_size", len(batch)),
			zap.Duration("elapsed", time.Since(start)))
		return results, nil
	case <-batchCtx.Done():
	}

	c.timeouts.Add(1)

	mu.Lock()
	sealed = true
	out := make([]*types.Result, len(results))
	pending := 0
	for i, res := range results {
		if res != nil {
			out[i] = res
			continue
		}
		pending++
		if !started[i] {
			batch[i].Status = types.TaskFailed
		}
		out[i] = types.NewFailureResult(batch[i].ID, "", types.NewBatchTimeoutError(), 0, 0)
	}
	mu.Unlock()

	c.logger.Warn("batch deadline exceeded",
		zap.Int("batch_size", len(batch)),
		zap.Int("pending", pending),
		zap.Duration("elapsed", time.Since(start)))

	return out, types.NewBatchTimeoutError()
}

// Close stops accepting batches and waits for queued dispatches to drain.
func (c *Coordinator) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.pool.Close()
}

// Stats returns a point-in-time view of coordinator activity.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Batches:  c.batches.Load(),
		Tasks:    c.tasks.Load(),
		Timeouts: c.timeouts.Load(),
		Pool:     c.pool.Stats(),
	}
}

// Stats describes coordinator activity counters.
type Stats struct {
	Batches  int64      `json:"batches"`
	Tasks    int64      `json:"tasks"`
	Timeouts int64      `json:"timeouts"`
	Pool     pool.Stats `json:"pool"`
}
