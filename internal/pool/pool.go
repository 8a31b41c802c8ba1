// Package pool provides a bounded worker pool for fan-out dispatch.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed = errors.New("pool is closed")
	ErrFull   = errors.New("pool queue is full")
)

// Task is a unit of work executed by a pool worker.
type Task func(ctx context.Context) error

// Config sizes the pool.
type Config struct {
	// MaxWorkers caps the number of concurrently running workers.
	MaxWorkers int `json:"max_workers"`

	// QueueSize is the capacity of the pending-task queue.
	QueueSize int `json:"queue_size"`

	// IdleTimeout is how long a surplus worker waits for work before
	// exiting.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// PanicHandler observes recovered task panics.
	PanicHandler func(any) `json:"-"`
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  32,
		QueueSize:   1024,
		IdleTimeout: 60 * time.Second,
	}
}

// WorkerPool runs submitted tasks on a bounded set of worker goroutines.
// Workers are spawned on demand up to MaxWorkers and exit when idle.
type WorkerPool struct {
	maxWorkers  int
	queue       chan item
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type item struct {
	task Task
	ctx  context.Context
}

// New creates a worker pool. Zero or negative config fields fall back to
// defaults.
func New(cfg Config) *WorkerPool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	return &WorkerPool{
		maxWorkers:   cfg.MaxWorkers,
		queue:        make(chan item, cfg.QueueSize),
		idleTimeout:  cfg.IdleTimeout,
		panicHandler: cfg.PanicHandler,
	}
}

// Submit enqueues a task for execution. It never blocks: when the queue is
// full and no worker slot is free it returns ErrFull.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.submitted.Add(1)
	it := item{task: task, ctx: ctx}

	select {
	case p.queue <- it:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.queue <- it:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrFull
	}
}

func (p *WorkerPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *WorkerPool) trySpawnWorker() bool {
	for {
		n := p.workerCount.Load()
		if n >= int32(p.maxWorkers) {
			return false
		}
		if !p.workerCount.CompareAndSwap(n, n+1) {
			continue
		}
		p.wg.Add(1)
		go p.worker()
		return true
	}
}

func (p *WorkerPool) worker() {
	idle := time.NewTimer(p.idleTimeout)
	defer func() {
		idle.Stop()
		p.workerCount.Add(-1)
		p.wg.Done()
	}()

	for {
		select {
		case <-idle.C:
			// The last worker stays resident so queued work keeps
			// draining after a burst.
			if p.workerCount.Load() == 1 {
				idle.Reset(p.idleTimeout)
				continue
			}
			return

		case it, ok := <-p.queue:
			if !ok {
				return
			}
			p.execute(it)
			idle.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) execute(it item) {
	p.activeCount.Add(1)
	defer p.activeCount.Add(-1)

	if err := p.run(it); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

func (p *WorkerPool) run(it item) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if p.panicHandler != nil {
			p.panicHandler(r)
		}
		err = errors.New("task panicked")
	}()

	return it.task(it.ctx)
}

// Close stops accepting work and waits for running tasks to finish. It is
// safe to call more than once.
func (p *WorkerPool) Close() {
	if !p.closed.Swap(true) {
		close(p.queue)
		p.wg.Wait()
	}
}

// Stats returns a point-in-time view of pool activity.
func (p *WorkerPool) Stats() Stats {
	s := Stats{
		Workers: int(p.workerCount.Load()),
		Active:  int(p.activeCount.Load()),
		Queued:  len(p.queue),
	}
	s.Submitted = p.submitted.Load()
	s.Completed = p.completed.Load()
	s.Failed = p.failed.Load()
	s.Rejected = p.rejected.Load()
	return s
}

// Stats describes pool activity. Workers, Active and Queued are
// instantaneous; the remaining fields count events since the pool was
// created.
type Stats struct {
	Workers int `json:"workers"`
	Active  int `json:"active"`
	Queued  int `json:"queued"`

	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
