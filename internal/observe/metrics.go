// Package observe carries the telemetry plumbing shared by every part
// of parley: OpenTelemetry metric instruments, tracing helpers, and the
// HTTP middleware that stitches both into each request.
//
// All instruments live on a [Metrics] struct so tests can build their
// own against a manual reader; production code shares the process-wide
// [DefaultMetrics], which records through the global meter provider set
// up by [InitProvider] and is scraped as Prometheus text via /metrics.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope for all parley telemetry,
// meters and tracers alike.
const scopeName = "github.com/tminde/parley"

// Metrics holds the module's metric instruments. The underlying OTel
// types synchronise themselves, so a single Metrics value is shared
// freely across goroutines.
type Metrics struct {
	// Per-stage latency histograms, in seconds.

	// EncodeDuration measures container-to-stream transcoding.
	EncodeDuration metric.Float64Histogram

	// DecodeDuration measures stream-to-container transcoding.
	DecodeDuration metric.Float64Histogram

	// RelayDuration measures a whole relay exchange, decode through re-encode.
	RelayDuration metric.Float64Histogram

	// STTDuration measures the transcription stage.
	STTDuration metric.Float64Histogram

	// TranslateDuration measures the translation stage.
	TranslateDuration metric.Float64Histogram

	// TTSDuration measures the synthesis stage.
	TTSDuration metric.Float64Histogram

	// EmbedDuration measures speaker-embedding sidecar round trips.
	EmbedDuration metric.Float64Histogram

	// Volume counters.

	// TranscodedFrames counts codec frames, attributed by op=encode|decode.
	TranscodedFrames metric.Int64Counter

	// TranscodedBytes counts compressed bytes moved, attributed by
	// op=encode|decode.
	TranscodedBytes metric.Int64Counter

	// ProviderRequests counts outbound provider calls, attributed by
	// provider, kind, and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider calls, attributed by provider
	// and kind.
	ProviderErrors metric.Int64Counter

	// In-flight gauges.

	// ActiveStreams tracks live streaming-encode sessions.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveTranscodes tracks encode/decode operations in flight.
	ActiveTranscodes metric.Int64UpDownCounter

	// HTTPRequestDuration measures whole requests in the router middleware,
	// attributed by method, path, and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The low
// end covers in-process transcodes, the high end provider round trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics builds every instrument on a meter from mp. The first
// instrument-creation error aborts the whole construction.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scopeName)
	var firstErr error

	stageHist := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return h
	}
	counter := func(name, desc, unit string) metric.Int64Counter {
		opts := []metric.Int64CounterOption{metric.WithDescription(desc)}
		if unit != "" {
			opts = append(opts, metric.WithUnit(unit))
		}
		c, err := meter.Int64Counter(name, opts...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return g
	}

	m := &Metrics{
		EncodeDuration:    stageHist("parley.encode.duration", "Latency of container-to-stream encoding."),
		DecodeDuration:    stageHist("parley.decode.duration", "Latency of stream-to-container decoding."),
		RelayDuration:     stageHist("parley.relay.duration", "End-to-end relay pipeline latency."),
		STTDuration:       stageHist("parley.stt.duration", "Latency of speech-to-text transcription."),
		TranslateDuration: stageHist("parley.translate.duration", "Latency of message translation."),
		TTSDuration:       stageHist("parley.tts.duration", "Latency of text-to-speech synthesis."),
		EmbedDuration:     stageHist("parley.voiceid.embed.duration", "Latency of speaker-embedding extraction."),

		TranscodedFrames: counter("parley.transcode.frames", "Total codec frames processed by operation.", ""),
		TranscodedBytes:  counter("parley.transcode.bytes", "Total compressed bytes produced or consumed by operation.", "By"),
		ProviderRequests: counter("parley.provider.requests", "Total provider API requests by provider, kind, and status.", ""),
		ProviderErrors:   counter("parley.provider.errors", "Total provider errors by provider and kind.", ""),

		ActiveStreams:    gauge("parley.active_streams", "Number of live streaming-encode sessions."),
		ActiveTranscodes: gauge("parley.active_transcodes", "Number of encode/decode operations in flight."),
	}

	// The HTTP histogram keeps the SDK's default buckets; route latency
	// spans a wider range than any single pipeline stage.
	h, err := meter.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
		metric.WithUnit("s"),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	m.HTTPRequestDuration = h

	if firstErr != nil {
		return nil, firstErr
	}
	return m, nil
}

// DefaultMetrics returns the process-wide [Metrics], built on first use
// from the global meter provider. Construction against the global
// provider does not fail with current SDKs; if it ever does, the panic
// surfaces at startup.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// Attr is shorthand for [attribute.String] at recording call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscode records one finished encode or decode operation: its
// latency plus the frame and compressed-byte volumes it moved.
func (m *Metrics) RecordTranscode(ctx context.Context, op string, seconds float64, frames, compressedBytes int64) {
	attrs := metric.WithAttributes(Attr("op", op))
	switch op {
	case "encode":
		m.EncodeDuration.Record(ctx, seconds)
	case "decode":
		m.DecodeDuration.Record(ctx, seconds)
	}
	m.TranscodedFrames.Add(ctx, frames, attrs)
	m.TranscodedBytes.Add(ctx, compressedBytes, attrs)
}

// RecordProviderRequest counts one provider call with the standard
// provider/kind/status attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}
