package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSpanExporter_Selection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		traces  string
		wantLog bool
		wantErr bool
	}{
		{"", false, false},
		{TracesNone, false, false},
		{TracesLog, true, false},
		{"zipkin", false, true},
	}
	for _, tt := range tests {
		exp, err := spanExporter(ProviderConfig{Traces: tt.traces})
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tt.traces, err, tt.wantErr)
			continue
		}
		if _, isLog := exp.(*logExporter); isLog != tt.wantLog {
			t.Errorf("%q: exporter = %T, want log exporter %v", tt.traces, exp, tt.wantLog)
		}
	}
}

func TestSampler_Ratio(t *testing.T) {
	t.Parallel()
	for _, r := range []float64{0, -1, 1, 2} {
		if d := sampler(r).Description(); !strings.Contains(d, "root:AlwaysOnSampler") {
			t.Errorf("sampler(%v) = %s, want always on", r, d)
		}
	}
	if d := sampler(0.25).Description(); !strings.Contains(d, "root:TraceIDRatioBased{0.25}") {
		t.Errorf("sampler(0.25) = %s, want ratio based", d)
	}
}

func TestLogExporter_WritesGatewaySpans(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(&logExporter{log: log}))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, parent := tp.Tracer("test").Start(context.Background(), "POST /api/solve")
	_, child := tp.Tracer("test").Start(ctx, "gateway.solve_standard")
	child.SetAttributes(AttrModel.String("gemini-2.5-flash"), AttrUser.String("history:ada"))
	child.End()
	parent.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2:\n%s", len(lines), buf.String())
	}
	first := lines[0]
	for _, want := range []string{
		"span=gateway.solve_standard",
		"gen_ai.request.model=gemini-2.5-flash",
		"tutorlive.user=history:ada",
		"parent_id=" + parent.SpanContext().SpanID().String(),
	} {
		if !strings.Contains(first, want) {
			t.Errorf("child span line missing %q: %s", want, first)
		}
	}
	if strings.Contains(lines[1], "parent_id") {
		t.Errorf("root span should have no parent: %s", lines[1])
	}
}

func TestInitProvider_LogTraces(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	origTP, origMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "tutorlive-test",
		ServiceVersion: "v0.0.0",
		Traces:         TracesLog,
		Logger:         log,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	_, span := StartSpan(context.Background(), "gateway.flashcard")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "span=gateway.flashcard") {
		t.Errorf("span not exported on shutdown: %q", buf.String())
	}
}

func TestInitProvider_UnknownExporter(t *testing.T) {
	t.Parallel()
	if _, err := InitProvider(context.Background(), ProviderConfig{Traces: "jaeger"}); err == nil {
		t.Fatal("expected an error for an unknown trace exporter")
	}
}
