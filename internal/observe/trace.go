package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/tutorlive"

// Span attributes set by tutorlive itself.
const (
	// AttrUser is the history key of the caller ("history:guest" for guests).
	AttrUser = attribute.Key("tutorlive.user")

	// AttrModel is the model a gateway call went to.
	AttrModel = attribute.Key("gen_ai.request.model")
)

// Tracer returns the tutorlive tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries a user (see
// [WithUser]) the span is tagged with [AttrUser]. The caller ends the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if u := User(ctx); u != "" {
		opts = append(opts, trace.WithAttributes(AttrUser.String(u)))
	}
	return Tracer().Start(ctx, name, opts...)
}

type userKey struct{}

// WithUser returns a copy of ctx that carries the caller's history key.
// [Logger] and [StartSpan] pick it up. An empty key leaves ctx unchanged.
func WithUser(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, key)
}

// User returns the history key stored by [WithUser], or "".
func User(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// TraceID returns the hex trace ID of the span in ctx, or "" when there is
// none. It is sent to clients as X-Correlation-ID.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the trace_id, span_id, and user of
// ctx attached where present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if u := User(ctx); u != "" {
		l = l.With(slog.String("user", u))
	}
	return l
}
