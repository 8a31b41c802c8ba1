// Package metrics records the service's Prometheus metrics.
//
// A single Collector registers every vector via promauto under one
// namespace: HTTP surface (request counts, durations, sizes, in-flight),
// dispatch outcomes and retries per backend, limiter waits and outstanding
// leases, batch throughput, and a per-backend health gauge.
package metrics
