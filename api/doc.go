// Package api defines the wire types of the swarm HTTP surface.
//
// The service exposes a small JSON API:
//   - POST /v1/swarm/batch — dispatch an ordered batch of tasks across the
//     registered backends and return index-aligned results
//   - POST /v1/swarm/decide — run a question through the council pipeline
//   - GET /health — liveness plus a per-backend health snapshot
//   - GET /version — build information
//
// Every response is wrapped in the handlers.Response envelope carrying a
// request id and timestamp. Authenticated endpoints accept an X-API-Key
// header or a JWT bearer token depending on the configured auth mode.
//
// The types here are deliberately decoupled from the core types package:
// the HTTP contract can stay stable while internal representations move.
package api
