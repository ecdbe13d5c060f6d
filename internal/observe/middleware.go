package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusWriter captures the status code the downstream handler writes.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (s *statusWriter) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the real connection, which
// the WebSocket upgrade needs to hijack through this middleware.
func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// metricPath prefers the mux route pattern over the raw URL path so the
// path label keeps a fixed cardinality on wildcard routes. The pattern
// is only filled in during dispatch, so callers read it after serving.
func metricPath(r *http.Request) string {
	p := r.Pattern
	if p == "" {
		return r.URL.Path
	}
	// Patterns look like "GET /v1/voices/{name}"; the method is already
	// its own label.
	if _, path, ok := strings.Cut(p, " "); ok {
		return path
	}
	return p
}

// Middleware wraps a handler with the request-scoped observability every
// route gets: W3C trace propagation in and out, a server span renamed to
// the matched route, an X-Correlation-ID response header carrying the
// trace ID, the HTTP latency histogram, and one completion log line.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if traceID := CorrelationID(ctx); traceID != "" {
				w.Header().Set("X-Correlation-ID", traceID)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			tap := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(tap, r)

			// The mux filled in r.Pattern while dispatching; fold the
			// matched route back into the span name and metric label.
			route := metricPath(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(semconv.HTTPResponseStatusCode(tap.code))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
					attribute.Int("status", tap.code),
				),
			)

			Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tap.code),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
