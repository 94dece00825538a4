package types

import "context"

// Context keys are unexported to prevent collisions with other packages.
type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying the given request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request correlation ID from the context, or the
// empty string if none was set.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
