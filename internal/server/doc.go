// Package server manages the lifecycle of the service's HTTP listeners:
// non-blocking start, graceful shutdown, and OS signal handling.
//
// Manager wraps net/http.Server with a mutex-guarded state machine so
// Start/Shutdown are safe to call from multiple goroutines, and exposes an
// asynchronous error channel for serve failures. Both the API listener and
// the metrics listener are run through the same Manager type.
package server
