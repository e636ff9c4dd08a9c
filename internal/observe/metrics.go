// Package observe provides application-wide observability primitives for
// tutorlive: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tutorlive metrics.
const meterName = "github.com/MrWong99/tutorlive"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Gateway ---

	// GatewayDuration tracks one-shot model call latency. Use with attribute:
	//   attribute.String("op", ...)
	GatewayDuration metric.Float64Histogram

	// GatewayRequests counts gateway calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	GatewayRequests metric.Int64Counter

	// GatewayFallbacks counts calls answered from a fallback result instead of
	// a parsed model reply. Use with attribute:
	//   attribute.String("op", ...)
	GatewayFallbacks metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Live sessions ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsEnded counts finished live sessions. Use with attribute:
	//   attribute.String("outcome", "closed"|"errored")
	SessionsEnded metric.Int64Counter

	// FramesSent counts microphone frames handed to the remote model.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames that were not sent. Use with
	// attribute:
	//   attribute.String("reason", "muted"|"closed"|"send_error")
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts reply chunks queued on the output device.
	ChunksScheduled metric.Int64Counter

	// ChunksDropped counts reply chunks that could not be decoded or
	// scheduled.
	ChunksDropped metric.Int64Counter

	// Interruptions counts barge-in interruptions signalled by the model.
	Interruptions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// model calls, which range from sub-second fast answers to long video
// analyses.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Gateway.
	if met.GatewayDuration, err = m.Float64Histogram("tutorlive.gateway.duration",
		metric.WithDescription("Latency of one-shot model calls by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GatewayRequests, err = m.Int64Counter("tutorlive.gateway.requests",
		metric.WithDescription("Total gateway calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.GatewayFallbacks, err = m.Int64Counter("tutorlive.gateway.fallbacks",
		metric.WithDescription("Total gateway calls answered with a fallback result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("tutorlive.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Live sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("tutorlive.live.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("tutorlive.live.sessions_ended",
		metric.WithDescription("Total finished live sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("tutorlive.live.frames_sent",
		metric.WithDescription("Total microphone frames sent to the model."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("tutorlive.live.frames_dropped",
		metric.WithDescription("Total microphone frames not sent, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("tutorlive.live.chunks_scheduled",
		metric.WithDescription("Total reply audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("tutorlive.live.chunks_dropped",
		metric.WithDescription("Total reply audio chunks dropped as malformed or unplayable."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("tutorlive.live.interruptions",
		metric.WithDescription("Total interruptions signalled by the model."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tutorlive.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGatewayRequest records one gateway call: its latency and a request
// counter increment with the given status ("ok" or "error").
func (m *Metrics) RecordGatewayRequest(ctx context.Context, op, status string, seconds float64) {
	m.GatewayDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("op", op)),
	)
	m.GatewayRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordGatewayFallback records that op answered with a fallback result.
func (m *Metrics) RecordGatewayFallback(ctx context.Context, op string) {
	m.GatewayFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFrameDropped records a microphone frame that was not sent.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSessionEnded records a finished live session.
func (m *Metrics) RecordSessionEnded(ctx context.Context, outcome string) {
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
