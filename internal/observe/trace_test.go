package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

const (
	testTraceHex = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanHex  = "00f067aa0ba902b7"
)

// spanContext builds a context carrying a fixed, sampled span context so
// assertions can use exact IDs.
func spanContext(t *testing.T) context.Context {
	t.Helper()
	tid, err := trace.TraceIDFromHex(testTraceHex)
	if err != nil {
		t.Fatalf("trace ID: %v", err)
	}
	sid, err := trace.SpanIDFromHex(testSpanHex)
	if err != nil {
		t.Fatalf("span ID: %v", err)
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

// captureLogs redirects the default logger into a builder for the test's
// duration and returns it.
func captureLogs(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
	if got := CorrelationID(spanContext(t)); got != testTraceHex {
		t.Errorf("CorrelationID = %q, want %q", got, testTraceHex)
	}
}

func TestStartSpan_UsesModuleScope(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "transcode.encode")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "transcode.encode" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "transcode.encode")
	}
	if got := spans[0].InstrumentationScope.Name; got != scopeName {
		t.Errorf("instrumentation scope = %q, want %q", got, scopeName)
	}
}

func TestLogger_TagsTraceAndSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(spanContext(t)).Info("encode finished")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+testTraceHex) {
		t.Errorf("log line missing trace_id, got: %s", out)
	}
	if !strings.Contains(out, "span_id="+testSpanHex) {
		t.Errorf("log line missing span_id, got: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("startup")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line should carry no trace_id, got: %s", out)
	}
}
