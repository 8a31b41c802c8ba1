// Package tlsutil builds the hardened HTTP client shared by outbound backend
// callers: TLS 1.2 minimum, AEAD cipher suites only, connection pooling tuned
// for a small fixed fleet of deployment hosts.
package tlsutil
