package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/neocore-ai/swarm"
	"github.com/neocore-ai/swarm/api/handlers"
	"github.com/neocore-ai/swarm/backend"
	"github.com/neocore-ai/swarm/batch"
	"github.com/neocore-ai/swarm/config"
	"github.com/neocore-ai/swarm/council"
	"github.com/neocore-ai/swarm/dispatch"
	"github.com/neocore-ai/swarm/internal/metrics"
	"github.com/neocore-ai/swarm/internal/server"
	"github.com/neocore-ai/swarm/internal/telemetry"
	"github.com/neocore-ai/swarm/limiter"
	"github.com/neocore-ai/swarm/providers/azurechat"
	"github.com/neocore-ai/swarm/types"
)

// Server assembles the engine, its backends, and both HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	engine    *swarm.Engine
	collector *metrics.Collector
	prober    *backend.Prober

	httpManager    *server.Manager
	metricsManager *server.Manager
	otelProviders  *telemetry.Providers

	// stopSweep ends the rate limiter's visitor sweep goroutine.
	stopSweep context.CancelFunc
}

// NewServer creates an unstarted server from the loaded configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// Start brings everything up: metrics, engine, backends, prober, listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("neocore", s.logger)

	s.buildEngine()

	if err := s.registerBackends(); err != nil {
		return fmt.Errorf("failed to register backends: %w", err)
	}

	if s.cfg.Prober.Enabled {
		s.prober = backend.NewProber(s.engine.Registry(), backend.ProberConfig{
			Interval: s.cfg.Prober.Interval,
			Timeout:  s.cfg.Prober.Timeout,
		}, s.logger)
		s.prober.Start()
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("backends", len(s.engine.Registry().Snapshot())),
		zap.Bool("prober_enabled", s.cfg.Prober.Enabled),
	)

	return nil
}

// buildEngine maps the loaded configuration onto the engine options and
// hooks the metrics collector into the health and limiter observers.
func (s *Server) buildEngine() {
	healthCfg := &backend.Config{
		FailureThreshold:    s.cfg.Health.FailureThreshold,
		TripThreshold:       s.cfg.Health.TripThreshold,
		CoolDown:            s.cfg.Health.CoolDown,
		RecoverySuccesses:   s.cfg.Health.RecoverySuccesses,
		ProbationConcurrent: s.cfg.Health.ProbationConcurrent,
		OnStateChange: func(id string, from, to backend.Status) {
			s.collector.SetBackendHealth(id, to.String())
			s.logger.Info("backend health changed",
				zap.String("backend", id),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	limiterCfg := &limiter.Config{
		AcquireTimeout: s.cfg.Limiter.AcquireTimeout,
		OnWait:         s.collector.RecordLimiterWait,
	}

	dispatchCfg := &dispatch.Config{
		CallTimeout: s.cfg.Dispatch.CallTimeout,
		Retry: &dispatch.Policy{
			MaxAttempts: s.cfg.Dispatch.MaxAttempts,
			BaseDelay:   s.cfg.Dispatch.BaseDelay,
			MaxDelay:    s.cfg.Dispatch.MaxDelay,
			Multiplier:  s.cfg.Dispatch.Multiplier,
			Jitter:      s.cfg.Dispatch.Jitter,
		},
	}

	batchCfg := &batch.Config{
		Workers:      s.cfg.Batch.Workers,
		QueueSize:    s.cfg.Batch.QueueSize,
		BatchTimeout: s.cfg.Batch.BatchTimeout,
	}

	councilCfg := &council.Config{
		AdversarialPass:  s.cfg.Council.AdversarialPass,
		AdvisorMaxTokens: s.cfg.Council.AdvisorMaxTokens,
		MonarchMaxTokens: s.cfg.Council.MonarchMaxTokens,
	}

	s.engine = swarm.New(
		swarm.WithLogger(s.logger),
		swarm.WithHealthConfig(healthCfg),
		swarm.WithLimiterConfig(limiterCfg),
		swarm.WithDispatchConfig(dispatchCfg),
		swarm.WithBatchConfig(batchCfg),
		swarm.WithCouncilConfig(councilCfg),
	)
}

// registerBackends builds one azurechat caller per configured backend. A
// backend whose credential cannot be resolved is skipped with a warning so
// the rest of the fleet still comes up.
func (s *Server) registerBackends() error {
	for _, bc := range s.cfg.Backends {
		caller, err := azurechat.New(azurechat.Config{
			Endpoint:   bc.Endpoint,
			Deployment: bc.Deployment,
			APIVersion: bc.APIVersion,
			APIKeyEnv:  bc.APIKeyEnv,
			Timeout:    bc.Timeout,
		}, s.logger)
		if err != nil {
			s.logger.Warn("skipping backend",
				zap.String("backend", bc.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.engine.AddBackend(&backend.Backend{
			ID:             bc.ID,
			Caller:         caller,
			MaxConcurrent:  bc.MaxConcurrent,
			RequestsPerSec: bc.RequestsPerSec,
			Burst:          bc.Burst,
		}); err != nil {
			return err
		}

		s.collector.SetBackendHealth(bc.ID, backend.StatusHealthy.String())
		s.logger.Info("backend registered",
			zap.String("backend", bc.ID),
			zap.String("deployment", bc.Deployment),
			zap.Int64("max_concurrent", bc.MaxConcurrent),
			zap.Float64("requests_per_sec", bc.RequestsPerSec),
		)
	}

	if len(s.cfg.Backends) > 0 && len(s.engine.Registry().Snapshot()) == 0 {
		s.logger.Warn("no backend could be registered, batches will be rejected")
	}

	return nil
}

func (s *Server) startHTTPServer() error {
	swarmHandler := handlers.NewSwarmHandler(
		&instrumentedBatcher{batcher: s.engine, collector: s.collector},
		s.cfg.Batch.MaxBatchSize,
		s.logger,
	)
	decideHandler := handlers.NewDecideHandler(
		&instrumentedDecider{decider: s.engine, collector: s.collector},
		s.logger,
	)
	healthHandler := handlers.NewHealthHandler(s.engine.Registry(), Version, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/swarm/batch", swarmHandler.HandleBatch)
	mux.HandleFunc("POST /v1/swarm/decide", decideHandler.HandleDecide)
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(BuildTime, GitCommit))

	skipAuthPaths := []string{"/health", "/healthz", "/version", "/metrics"}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	s.stopSweep = stopSweep

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSOrigins),
		OTelTracing(),
		RateLimiter(sweepCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}

	switch s.cfg.Auth.Mode {
	case "api_key":
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.Auth.APIKeys, skipAuthPaths, s.cfg.Auth.AllowQueryAPIKey, s.logger))
	case "jwt":
		middlewares = append(middlewares,
			JWTAuth(s.cfg.Auth.JWT, skipAuthPaths, s.logger))
	}

	middlewares = append(middlewares, MetricsMiddleware(s.collector))

	handler := Chain(mux, middlewares...)

	httpCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, httpCfg, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started",
		zap.Int("port", s.cfg.Server.HTTPPort),
		zap.String("auth_mode", s.cfg.Auth.Mode),
	)
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	promCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, promCfg, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal or listener error, then
// tears everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners, the prober, and the engine, in that order,
// so in-flight requests drain before the dispatch core closes.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.stopSweep != nil {
		s.stopSweep()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP listener shutdown failed", zap.Error(err))
		}
	}

	if s.prober != nil {
		s.prober.Stop()
	}

	if s.engine != nil {
		s.engine.Close()
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics listener shutdown failed", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}

// instrumentedBatcher records batch and per-task dispatch metrics around the
// engine's Submit.
type instrumentedBatcher struct {
	batcher   handlers.Batcher
	collector *metrics.Collector
}

func (b *instrumentedBatcher) Submit(ctx context.Context, tasks []*types.Task) ([]*types.Result, error) {
	start := time.Now()
	results, err := b.batcher.Submit(ctx, tasks)

	succeeded, failed := 0, 0
	for _, res := range results {
		if res == nil {
			continue
		}
		status := string(res.Status)
		b.collector.RecordDispatch(res.Backend, status, res.Latency, res.RetryCount)
		if res.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	if results != nil {
		b.collector.RecordBatch(time.Since(start), len(tasks), succeeded, failed)
	}

	return results, err
}

// instrumentedDecider records per-advisor dispatch metrics around the
// engine's Decide.
type instrumentedDecider struct {
	decider   handlers.Decider
	collector *metrics.Collector
}

func (d *instrumentedDecider) Decide(ctx context.Context, in council.DecideInput) (*council.Decision, error) {
	decision, err := d.decider.Decide(ctx, in)
	if decision == nil {
		return decision, err
	}

	for _, a := range decision.Advisors {
		status := string(types.TaskSucceeded)
		if a.Err != nil {
			status = string(types.TaskFailed)
		}
		d.collector.RecordDispatch(a.Backend, status,
			time.Duration(a.LatencyMS)*time.Millisecond, a.RetryCount)
	}

	return decision, err
}
