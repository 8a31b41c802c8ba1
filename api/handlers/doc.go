// Package handlers implements the HTTP endpoints of the swarm API.
//
// Each handler is a plain net/http handler over an injected core dependency:
//
//   - SwarmHandler  — POST /v1/swarm/batch, ordered batch dispatch
//   - DecideHandler — POST /v1/swarm/decide, council pipeline
//   - HealthHandler — GET /health, /healthz, /version
//
// Responses share the Response envelope (success, data, error, timestamp,
// request id). Aggregate outcomes map onto HTTP status codes: 200 when every
// task succeeded, 207 on partial success, 502 when everything failed.
// Structured errors carry their own status; mapErrorCodeToHTTPStatus covers
// the rest.
package handlers
