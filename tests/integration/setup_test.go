// Package integration exercises the HTTP surface end to end: real ServeMux
// routes, real handlers, and a real engine over scripted backend callers.
// Only the model backends are faked.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neocore-ai/swarm"
	"github.com/neocore-ai/swarm/api/handlers"
	"github.com/neocore-ai/swarm/backend"
	"github.com/neocore-ai/swarm/batch"
	"github.com/neocore-ai/swarm/dispatch"
)

// stack bundles the engine and the HTTP server under test.
type stack struct {
	engine *swarm.Engine
	server *httptest.Server
}

// newStack assembles the same routes the production server registers, with
// retry pacing tightened so failure tests finish in milliseconds.
func newStack(t *testing.T, opts ...swarm.Option) *stack {
	t.Helper()

	base := []swarm.Option{
		swarm.WithLogger(zap.NewNop()),
		swarm.WithDispatchConfig(&dispatch.Config{
			CallTimeout: 5 * time.Second,
			Retry: &dispatch.Policy{
				MaxAttempts: 2,
				BaseDelay:   time.Millisecond,
				MaxDelay:    5 * time.Millisecond,
				Multiplier:  2,
			},
		}),
		swarm.WithBatchConfig(&batch.Config{
			Workers:      4,
			QueueSize:    64,
			BatchTimeout: 5 * time.Second,
		}),
	}
	eng := swarm.New(append(base, opts...)...)
	t.Cleanup(eng.Close)

	swarmHandler := handlers.NewSwarmHandler(eng, 16, zap.NewNop())
	decideHandler := handlers.NewDecideHandler(eng, zap.NewNop())
	healthHandler := handlers.NewHealthHandler(eng.Registry(), "integration-test", zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/swarm/batch", swarmHandler.HandleBatch)
	mux.HandleFunc("POST /v1/swarm/decide", decideHandler.HandleDecide)
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion("", ""))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &stack{engine: eng, server: srv}
}

// addBackend registers a scripted caller under the given id.
func (s *stack) addBackend(t *testing.T, id string, caller backend.Caller) {
	t.Helper()
	require.NoError(t, s.engine.AddBackend(&backend.Backend{
		ID:            id,
		Caller:        caller,
		MaxConcurrent: 8,
	}))
}

// envelope mirrors the response envelope with the payload left raw so each
// test decodes its own data shape.
type envelope struct {
	Success   bool                `json:"success"`
	Data      json.RawMessage     `json:"data,omitempty"`
	Error     *handlers.ErrorInfo `json:"error,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// postJSON marshals body and posts it as application/json.
func (s *stack) postJSON(t *testing.T, path string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, readEnvelope(t, resp)
}

// get fetches path and returns the raw body.
func (s *stack) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

// readEnvelope decodes and closes the response body.
func readEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

// decodeData unmarshals the envelope payload into dst.
func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	require.NotEmpty(t, env.Data, "envelope carries no data")
	require.NoError(t, json.Unmarshal(env.Data, dst))
}
