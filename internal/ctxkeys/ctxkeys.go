// Package ctxkeys defines the typed context keys shared across the service:
// the inbound request id and the batch id a task belongs to. Values travel
// with the request context so handlers, the coordinator, and the dispatcher
// log the same correlation ids.
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	batchIDKey   contextKey = "batch_id"
)

// WithRequestID attaches the inbound request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the inbound request id, if one is set.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithBatchID attaches the id of the batch a dispatch belongs to.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey, id)
}

// BatchID returns the batch id, if one is set.
func BatchID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(batchIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
