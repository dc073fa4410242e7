package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey string

const (
	peerIDKey ctxKey = "peer_id"
	roomKey   ctxKey = "room"
)

func WithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, peerIDKey, peerID)
}

func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, roomKey, room)
}

// ContextLogger derives loggers carrying the peer, room and trace ids found
// in a context.
type ContextLogger struct {
	base *zap.Logger
}

func NewContextLogger(base *zap.Logger) *ContextLogger {
	return &ContextLogger{base: base}
}

// For returns base unchanged when ctx carries nothing to add.
func (cl *ContextLogger) For(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	for _, key := range []ctxKey{peerIDKey, roomKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if len(fields) == 0 {
		return cl.base
	}
	return cl.base.With(fields...)
}

func (cl *ContextLogger) Sugared(ctx context.Context) *zap.SugaredLogger {
	return cl.For(ctx).Sugar()
}
