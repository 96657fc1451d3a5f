package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voxbridge tracer.
const tracerName = "github.com/MrWong99/voxbridge"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type callKey struct{}

// callInfo identifies the call a context belongs to.
type callInfo struct {
	callID    string
	sessionID string
}

// WithCall returns a context whose [Logger] carries call_id and session_id.
func WithCall(ctx context.Context, callID, sessionID string) context.Context {
	return context.WithValue(ctx, callKey{}, callInfo{callID: callID, sessionID: sessionID})
}

// CallID returns the call identifier stored by [WithCall], or "".
func CallID(ctx context.Context) string {
	ci, _ := ctx.Value(callKey{}).(callInfo)
	return ci.callID
}

// Logger returns an [slog.Logger] enriched with the call stored by
// [WithCall] and with trace_id and span_id from the OTel span context in
// ctx. Without either, the default slog logger is returned unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if ci, ok := ctx.Value(callKey{}).(callInfo); ok {
		l = l.With(slog.String("call_id", ci.callID))
		if ci.sessionID != "" {
			l = l.With(slog.String("session_id", ci.sessionID))
		}
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
