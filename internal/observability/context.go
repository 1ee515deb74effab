package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	workerIDKey  contextKey = "worker_id"
	batchIDKey   contextKey = "batch_id"
	sourceKey    contextKey = "source"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithWorkerID adds a worker ID to the context.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// WorkerIDFromContext retrieves the worker ID from context.
// Returns empty string if not present.
func WorkerIDFromContext(ctx context.Context) string {
	if v := ctx.Value(workerIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithBatch adds the batch ID and source name to the context.
func WithBatch(ctx context.Context, batchID, source string) context.Context {
	ctx = context.WithValue(ctx, batchIDKey, batchID)
	ctx = context.WithValue(ctx, sourceKey, source)
	return ctx
}

// BatchFromContext retrieves the batch ID and source name from context.
// Returns zero values if not present.
func BatchFromContext(ctx context.Context) (batchID, source string) {
	if v := ctx.Value(batchIDKey); v != nil {
		if id, ok := v.(string); ok {
			batchID = id
		}
	}
	if v := ctx.Value(sourceKey); v != nil {
		if s, ok := v.(string); ok {
			source = s
		}
	}
	return batchID, source
}
