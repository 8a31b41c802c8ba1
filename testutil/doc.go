// Package testutil provides shared helpers for swarm tests: bounded test
// contexts, task factories, and the batch result-alignment assertion.
//
// Sub-packages:
//
//   - testutil/mocks: scripted fakes, most notably MockCaller — a
//     backend.Caller with builder-style error injection, latency control,
//     and concurrency tracking
//   - testutil/fixtures: canned wire payloads (Azure chat completion bodies)
//     and prompt sets for transport and integration tests
package testutil
