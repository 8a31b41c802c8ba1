package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the service's Prometheus metrics. All
// vectors live under one namespace and register via promauto, so a process
// must construct at most one Collector per namespace.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	// dispatch
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchRetries  *prometheus.CounterVec

	// limiter
	limiterWaitDuration *prometheus.HistogramVec
	limiterInFlight     *prometheus.GaugeVec

	// batch
	batchTasksTotal *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	batchSize       prometheus.Histogram

	// backend health
	backendHealth *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates the collector and registers every metric under the
// given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),

		httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests served",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		httpRequestSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "Size of HTTP request bodies in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		}, []string{"method", "path"}),

		httpResponseSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "Size of HTTP response bodies in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		}, []string{"method", "path"}),

		httpInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),

		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched tasks by backend and outcome",
		}, []string{"backend", "status"}),

		dispatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Task dispatch duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend"}),

		dispatchRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Dispatch retry attempts",
		}, []string{"backend"}),

		limiterWaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limiter_wait_duration_seconds",
			Help:      "Time spent waiting for backend capacity",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"backend"}),

		limiterInFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limiter_leases_in_flight",
			Help:      "Outstanding capacity leases per backend",
		}, []string{"backend"}),

		batchTasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_tasks_total",
			Help:      "Batch tasks by outcome",
		}, []string{"outcome"}),

		batchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch submission duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		batchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_tasks",
			Help:      "Tasks per submitted batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),

		backendHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health",
			Help:      "Backend health state: 2 healthy, 1 degraded, 0 unavailable",
		}, []string{"backend"}),
	}

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// HTTPInFlightInc marks one more request in flight.
func (c *Collector) HTTPInFlightInc() { c.httpInFlight.Inc() }

// HTTPInFlightDec marks one request finished.
func (c *Collector) HTTPInFlightDec() { c.httpInFlight.Dec() }

// RecordDispatch records one finished task dispatch.
func (c *Collector) RecordDispatch(backend, status string, duration time.Duration, retries int) {
	if backend == "" {
		backend = "none"
	}
	c.dispatchTotal.WithLabelValues(backend, status).Inc()
	c.dispatchDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if retries > 0 {
		c.dispatchRetries.WithLabelValues(backend).Add(float64(retries))
	}
}

// RecordLimiterWait records how long one granted acquire blocked.
func (c *Collector) RecordLimiterWait(backend string, wait time.Duration) {
	c.limiterWaitDuration.WithLabelValues(backend).Observe(wait.Seconds())
}

// SetLimiterInFlight sets the outstanding-lease gauge for a backend.
func (c *Collector) SetLimiterInFlight(backend string, n int64) {
	c.limiterInFlight.WithLabelValues(backend).Set(float64(n))
}

// RecordBatch records one completed batch submission.
func (c *Collector) RecordBatch(duration time.Duration, size, succeeded, failed int) {
	c.batchDuration.Observe(duration.Seconds())
	c.batchSize.Observe(float64(size))
	if succeeded > 0 {
		c.batchTasksTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	}
	if failed > 0 {
		c.batchTasksTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

// SetBackendHealth sets the health gauge for a backend.
func (c *Collector) SetBackendHealth(backend, status string) {
	c.backendHealth.WithLabelValues(backend).Set(healthValue(status))
}

func healthValue(status string) float64 {
	switch status {
	case "healthy":
		return 2
	case "degraded":
		return 1
	default:
		return 0
	}
}

// statusCode folds an HTTP status into its class label.
func statusCode(code int) string {
	switch code / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "unknown"
	}
}
