package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Trace exporters understood by [InitProvider].
const (
	TracesNone = "none"
	TracesLog  = "log"
)

// ProviderConfig selects the telemetry resource and trace export. It mirrors
// the telemetry section of the server config.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// Traces is [TracesNone] or [TracesLog]. Empty means none.
	Traces string

	// SampleRatio is the fraction of root traces sampled. Values outside
	// (0, 1) sample everything.
	SampleRatio float64

	// Logger receives spans when Traces is [TracesLog]. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// InitProvider installs the global meter and tracer providers. Metrics go to
// the Prometheus registry served on /metrics; spans go wherever
// cfg.Traces says. The returned function flushes and stops both.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tutorlive"
	}
	exp, err := spanExporter(cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func spanExporter(cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Traces {
	case "", TracesNone:
		return nil, nil
	case TracesLog:
		l := cfg.Logger
		if l == nil {
			l = slog.Default()
		}
		return &logExporter{log: l}, nil
	default:
		return nil, fmt.Errorf("observe: unknown trace exporter %q", cfg.Traces)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// logExporter writes each finished span as one debug line. It is meant for
// local runs where no collector is around.
type logExporter struct {
	log *slog.Logger
}

var _ sdktrace.SpanExporter = (*logExporter)(nil)

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []slog.Attr{
			slog.String("span", s.Name()),
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.String("span_id", s.SpanContext().SpanID().String()),
			slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
			slog.String("status", s.Status().Code.String()),
		}
		if p := s.Parent(); p.IsValid() {
			attrs = append(attrs, slog.String("parent_id", p.SpanID().String()))
		}
		for _, kv := range s.Attributes() {
			switch kv.Key {
			case AttrUser, AttrModel:
				attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
			}
		}
		e.log.LogAttrs(ctx, slog.LevelDebug, "span", attrs...)
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }
