// Copyright (c) Neo-Core Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type definitions of the swarm core.

types is the lowest-level public package and depends on no other package in
the module. The backend, limiter, dispatch, batch, council and api layers all
speak these contracts, which keeps the import graph acyclic.

Core types

  - Task / TaskStatus  — a unit of work and its lifecycle (pending,
    dispatched, succeeded, failed)
  - Prompt             — the payload handed to a model backend
  - Completion         — the payload a backend returns
  - Result             — terminal outcome of one task: completion or
    structured error, backend used, latency, retry count
  - Error / ErrorCode  — structured error taxonomy with HTTP status and
    Retryable classification

Error helpers

  - Constructors per code: NewDuplicateBackendError, NewLimiterTimeoutError,
    NewBatchTimeoutError, NewNoBackendAvailableError and friends
  - IsRetryable / GetErrorCode / AsError for classification at call sites
*/
package types
