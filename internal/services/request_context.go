// internal/services/request_context.go
package services

import "context"

type ctxKey int

const (
	operatorKey ctxKey = iota
	requestIDKey
)

// WithOperator attaches the authenticated operator id to ctx
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorKey, operatorID)
}

// OperatorFrom returns the operator id set by WithOperator, or ""
func OperatorFrom(ctx context.Context) string {
	id, _ := ctx.Value(operatorKey).(string)
	return id
}

// WithRequestID attaches a request or terminal-session id to ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom returns the id set by WithRequestID, or ""
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
