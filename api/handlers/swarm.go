package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/api"
	"github.com/neocore-ai/swarm/internal/ctxkeys"
	"github.com/neocore-ai/swarm/types"
)

// Batcher runs one ordered batch of tasks to completion.
type Batcher interface {
	Submit(ctx context.Context, batch []*types.Task) ([]*types.Result, error)
}

// SwarmHandler serves the batch dispatch endpoint.
type SwarmHandler struct {
	batcher      Batcher
	maxBatchSize int
	logger       *zap.Logger
}

// NewSwarmHandler creates the batch handler. maxBatchSize caps tasks per
// request; zero or negative means no cap.
func NewSwarmHandler(b Batcher, maxBatchSize int, logger *zap.Logger) *SwarmHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SwarmHandler{
		batcher:      b,
		maxBatchSize: maxBatchSize,
		logger:       logger.With(zap.String("handler", "swarm")),
	}
}

// HandleBatch dispatches an ordered batch of tasks and returns index-aligned
// results. Aggregate status: 200 when every task succeeded, 207 on a mix,
// 502 when all failed. Whole-batch conditions (closed coordinator, empty
// registry) map through the error envelope instead.
func (h *SwarmHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.BatchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.validateBatchRequest(&req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	batchID := uuid.NewString()
	ctx := ctxkeys.WithBatchID(r.Context(), batchID)

	tasks := make([]*types.Task, len(req.Tasks))
	for i, p := range req.Tasks {
		tasks[i] = types.NewTask(p.Role, types.Prompt{
			System:      p.Prompt.System,
			User:        p.Prompt.User,
			MaxTokens:   p.Prompt.MaxTokens,
			Temperature: p.Prompt.Temperature,
		})
	}

	start := time.Now()
	results, err := h.batcher.Submit(ctx, tasks)
	elapsed := time.Since(start)

	if err != nil && results == nil {
		// Whole-batch rejection: nothing was dispatched.
		WriteError(w, r, types.AsError(err), h.logger)
		return
	}
	// A batch-timeout error arrives alongside results; the timed-out slots
	// already carry per-task failures, so the mapping below covers it.

	resp := api.BatchResponse{
		BatchID:  batchID,
		Results:  make([]api.TaskResult, len(results)),
		TimingMS: elapsed.Milliseconds(),
	}
	for i, res := range results {
		resp.Results[i] = taskResultToAPI(res)
		if res.Succeeded() {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}

	h.logger.Info("batch completed",
		zap.String("batch_id", batchID),
		zap.Int("tasks", len(tasks)),
		zap.Int("succeeded", resp.Succeeded),
		zap.Int("failed", resp.Failed),
		zap.Duration("elapsed", elapsed),
	)

	WriteStatus(w, r, batchHTTPStatus(resp.Succeeded, resp.Failed), resp)
}

// validateBatchRequest rejects empty, oversized, or malformed batches.
func (h *SwarmHandler) validateBatchRequest(req *api.BatchRequest) *types.Error {
	if len(req.Tasks) == 0 {
		return types.NewInvalidRequestError("tasks cannot be empty")
	}

	if h.maxBatchSize > 0 && len(req.Tasks) > h.maxBatchSize {
		return types.NewInvalidRequestError(
			fmt.Sprintf("batch size %d exceeds maximum %d", len(req.Tasks), h.maxBatchSize))
	}

	for i, p := range req.Tasks {
		if p.Prompt.User == "" {
			return types.NewInvalidRequestError(fmt.Sprintf("task %d: prompt.user is required", i))
		}
		if p.Prompt.Temperature < 0 || p.Prompt.Temperature > 2 {
			return types.NewInvalidRequestError(fmt.Sprintf("task %d: temperature must be between 0 and 2", i))
		}
		if p.Prompt.MaxTokens < 0 {
			return types.NewInvalidRequestError(fmt.Sprintf("task %d: max_tokens cannot be negative", i))
		}
	}

	return nil
}

// batchHTTPStatus maps aggregate outcomes: all green 200, mixed 207,
// all red 502.
func batchHTTPStatus(succeeded, failed int) int {
	switch {
	case failed == 0:
		return http.StatusOK
	case succeeded == 0:
		return http.StatusBadGateway
	default:
		return http.StatusMultiStatus
	}
}

// taskResultToAPI converts a core result into its wire form.
func taskResultToAPI(res *types.Result) api.TaskResult {
	out := api.TaskResult{
		TaskID:     res.TaskID,
		Status:     string(res.Status),
		Backend:    res.Backend,
		LatencyMS:  res.Latency.Milliseconds(),
		RetryCount: res.RetryCount,
	}

	if res.Completion != nil {
		out.Content = res.Completion.Content
		out.Model = res.Completion.Model
		out.Usage = &api.Usage{
			PromptTokens:     res.Completion.Usage.PromptTokens,
			CompletionTokens: res.Completion.Usage.CompletionTokens,
			TotalTokens:      res.Completion.Usage.TotalTokens,
		}
	}

	if res.Err != nil {
		out.Error = &api.ErrorDetail{
			Code:      string(res.Err.Code),
			Message:   res.Err.Message,
			Retryable: res.Err.Retryable,
			Backend:   res.Err.Backend,
		}
	}

	return out
}
