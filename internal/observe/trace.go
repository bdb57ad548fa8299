package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lugia19/GPT-Speaker"

// Span names of the dialogue pipeline. One request produces a SpanHandle
// with SpanExtract and one SpanResolve per line below it; every voiced line
// later produces a SpanPlayoutJob on the queue worker.
const (
	SpanHandle     = "dialog.handle"
	SpanExtract    = "dialog.extract"
	SpanResolve    = "resolve.speaker"
	SpanPlayoutJob = "playout.job"
)

// RequestIDKey is the attribute and log key carrying the request identifier.
const RequestIDKey = "request_id"

type requestIDKey struct{}

// WithRequestID returns a copy of ctx carrying id. Spans started with
// [StartSpan] and loggers from [Logger] pick it up.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request identifier stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// StartSpan starts a span on the global tracer provider. When ctx carries a
// request id the span is tagged with it. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := RequestID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String(RequestIDKey, id)))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the request id, trace id and span
// id found in ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RequestID(ctx); id != "" {
		l = l.With(slog.String(RequestIDKey, id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
