package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	orderRefKey  ctxKey = "order_ref"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithOrderRef tags every log line of a checkout with its order reference.
func WithOrderRef(ctx context.Context, orderRef string) context.Context {
	return context.WithValue(ctx, orderRefKey, orderRef)
}

func OrderRefFrom(ctx context.Context) string {
	v, _ := ctx.Value(orderRefKey).(string)
	return v
}

// FromCtx returns the global logger with request_id and order_ref added
// when present.
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if ref := OrderRefFrom(ctx); ref != "" {
		l = l.With(zap.String("order_ref", ref))
	}
	return l
}
