package backend

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProberConfig tunes the active health prober.
type ProberConfig struct {
	// Interval between probe rounds.
	Interval time.Duration

	// Timeout for each individual ping.
	Timeout time.Duration
}

// DefaultProberConfig returns the default prober tuning.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Prober periodically pings every registered backend and feeds the outcomes
// into the registry's health machine. Probe outcomes obey the same
// transition rules as dispatch outcomes; in particular a successful ping
// never shortcuts an active cool-down.
type Prober struct {
	registry *Registry
	cfg      ProberConfig
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a stopped prober over the given registry.
func NewProber(registry *Registry, cfg ProberConfig, logger *zap.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "health_prober")),
	}
}

// Start launches the probe loop. Calling Start on a running prober is a
// no-op.
func (p *Prober) Start() {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)

	p.logger.Info("health prober started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("timeout", p.cfg.Timeout),
	)
}

// Stop terminates the probe loop and waits for the in-flight round to end.
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)

	for _, snap := range p.registry.Snapshot() {
		b, ok := p.registry.Get(snap.ID)
		if !ok {
			continue
		}
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()

			if err := b.Caller.Ping(pingCtx); err != nil {
				p.logger.Debug("probe failed",
					zap.String("backend", b.ID),
					zap.Error(err),
				)
				p.registry.RecordFailure(b.ID)
				return nil
			}
			p.registry.RecordSuccess(b.ID)
			return nil
		})
	}
	_ = g.Wait()
}
