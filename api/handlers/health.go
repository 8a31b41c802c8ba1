package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/api"
	"github.com/neocore-ai/swarm/backend"
)

// Snapshotter exposes the registry's point-in-time backend view.
type Snapshotter interface {
	Snapshot() []backend.Snapshot
}

// HealthHandler serves liveness, backend health, and version endpoints.
type HealthHandler struct {
	snapshotter Snapshotter
	version     string
	logger      *zap.Logger
}

// NewHealthHandler creates the health handler. snapshotter may be nil in
// tests; the backend list is then empty.
func NewHealthHandler(snapshotter Snapshotter, version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		snapshotter: snapshotter,
		version:     version,
		logger:      logger.With(zap.String("handler", "health")),
	}
}

// HandleHealth reports process liveness plus the health state of every
// registered backend. The aggregate status is "ok" while at least one
// backend can take traffic, "degraded" otherwise. The endpoint itself
// always answers 200: an unhealthy fleet is a routing concern, not a
// process-liveness failure.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Backends:  []api.BackendHealth{},
	}

	if h.snapshotter != nil {
		snaps := h.snapshotter.Snapshot()
		resp.Backends = make([]api.BackendHealth, len(snaps))
		available := 0
		for i, s := range snaps {
			resp.Backends[i] = backendHealthToAPI(s)
			if s.Status != backend.StatusUnavailable {
				available++
			}
		}
		if len(snaps) > 0 && available == 0 {
			resp.Status = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// HandleHealthz is the bare liveness probe.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleVersion reports build information.
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, api.VersionResponse{
			Version:   h.version,
			BuildTime: buildTime,
			GitCommit: gitCommit,
		})
	}
}

// backendHealthToAPI converts a registry snapshot entry to its wire form.
func backendHealthToAPI(s backend.Snapshot) api.BackendHealth {
	return api.BackendHealth{
		ID:                   s.ID,
		Status:               s.Status.String(),
		MaxConcurrent:        s.MaxConcurrent,
		RequestsPerSec:       s.RequestsPerSec,
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		CoolDownRemainingMS:  s.CoolDownRemaining.Milliseconds(),
	}
}
