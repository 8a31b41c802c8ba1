package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/api"
	"github.com/neocore-ai/swarm/council"
	"github.com/neocore-ai/swarm/types"
)

// Decider runs one question through the council pipeline.
type Decider interface {
	Decide(ctx context.Context, in council.DecideInput) (*council.Decision, error)
}

// DecideHandler serves the council decide endpoint.
type DecideHandler struct {
	decider Decider
	logger  *zap.Logger
}

// NewDecideHandler creates the decide handler.
func NewDecideHandler(d Decider, logger *zap.Logger) *DecideHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecideHandler{
		decider: d,
		logger:  logger.With(zap.String("handler", "decide")),
	}
}

// HandleDecide runs the advisor fan-out, adversarial revision, and monarch
// synthesis, then maps the decision status onto HTTP: ok 200, partial 207,
// failed 502.
func (h *DecideHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.DecideRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Question == "" {
		WriteError(w, r, types.NewInvalidRequestError("question is required"), h.logger)
		return
	}

	decision, err := h.decider.Decide(r.Context(), council.DecideInput{
		Question: req.Question,
		ThreadID: req.ThreadID,
	})
	if err != nil {
		WriteError(w, r, types.AsError(err), h.logger)
		return
	}

	h.logger.Info("decide completed",
		zap.String("request_id", decision.RequestID),
		zap.String("status", decision.Status),
		zap.Int64("timing_ms", decision.TimingMS),
	)

	WriteStatus(w, r, decisionHTTPStatus(decision.Status), decision)
}

// decisionHTTPStatus maps the council outcome onto an aggregate HTTP code.
func decisionHTTPStatus(status string) int {
	switch status {
	case council.StatusOK:
		return http.StatusOK
	case council.StatusPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusBadGateway
	}
}
