package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// meterHarness is a Metrics instance on its own isolated provider, with
// the manual reader needed to pull recorded values back out.
type meterHarness struct {
	*Metrics
	reader *sdkmetric.ManualReader
}

func newMeterHarness(t *testing.T) *meterHarness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics(manual reader): %v", err)
	}
	return &meterHarness{Metrics: m, reader: reader}
}

// pull collects everything recorded so far.
func (h *meterHarness) pull(t *testing.T) gathered {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return gathered{t: t, rm: rm}
}

// gathered wraps one Collect pass with typed accessors that fatal on
// missing or mistyped metrics, keeping the test bodies declarative.
type gathered struct {
	t  *testing.T
	rm metricdata.ResourceMetrics
}

func (g gathered) metric(name string) metricdata.Metrics {
	g.t.Helper()
	for _, sm := range g.rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == name {
				return met
			}
		}
	}
	g.t.Fatalf("metric %q not collected", name)
	return metricdata.Metrics{}
}

func (g gathered) histogram(name string) metricdata.Histogram[float64] {
	g.t.Helper()
	h, ok := g.metric(name).Data.(metricdata.Histogram[float64])
	if !ok {
		g.t.Fatalf("metric %q is not a float64 histogram", name)
	}
	return h
}

func (g gathered) sum(name string) metricdata.Sum[int64] {
	g.t.Helper()
	s, ok := g.metric(name).Data.(metricdata.Sum[int64])
	if !ok {
		g.t.Fatalf("metric %q is not an int64 sum", name)
	}
	return s
}

// attrString pulls one string attribute out of a data point's set.
func attrString(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

func TestStageHistograms(t *testing.T) {
	m := newMeterHarness(t)
	ctx := context.Background()

	stages := map[string]metric.Float64Histogram{
		"parley.encode.duration":        m.EncodeDuration,
		"parley.decode.duration":        m.DecodeDuration,
		"parley.relay.duration":         m.RelayDuration,
		"parley.stt.duration":           m.STTDuration,
		"parley.translate.duration":     m.TranslateDuration,
		"parley.tts.duration":           m.TTSDuration,
		"parley.voiceid.embed.duration": m.EmbedDuration,
	}
	for _, h := range stages {
		h.Record(ctx, 0.123)
		h.Record(ctx, 0.456)
	}

	g := m.pull(t)
	for name := range stages {
		hist := g.histogram(name)
		if len(hist.DataPoints) != 1 {
			t.Errorf("%s: %d data points, want 1", name, len(hist.DataPoints))
			continue
		}
		if got := hist.DataPoints[0].Count; got != 2 {
			t.Errorf("%s: sample count = %d, want 2", name, got)
		}
	}
}

func TestRecordProviderRequest_SplitsByStatus(t *testing.T) {
	m := newMeterHarness(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderRequest(ctx, "openai", "stt", "error")

	sum := m.pull(t).sum("parley.provider.requests")
	for _, dp := range sum.DataPoints {
		switch attrString(dp.Attributes, "status") {
		case "ok":
			if dp.Value != 2 {
				t.Errorf("ok count = %d, want 2", dp.Value)
			}
		case "error":
			if dp.Value != 1 {
				t.Errorf("error count = %d, want 1", dp.Value)
			}
		}
		if got := attrString(dp.Attributes, "provider"); got != "openai" {
			t.Errorf("provider attribute = %q, want %q", got, "openai")
		}
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("%d data points, want 2 (ok and error)", len(sum.DataPoints))
	}
}

func TestRecordTranscode(t *testing.T) {
	m := newMeterHarness(t)
	ctx := context.Background()

	m.RecordTranscode(ctx, "encode", 0.02, 50, 7500)
	m.RecordTranscode(ctx, "encode", 0.03, 25, 3600)
	m.RecordTranscode(ctx, "decode", 0.01, 50, 7500)

	g := m.pull(t)

	for _, dp := range g.sum("parley.transcode.frames").DataPoints {
		switch attrString(dp.Attributes, "op") {
		case "encode":
			if dp.Value != 75 {
				t.Errorf("encode frames = %d, want 75", dp.Value)
			}
		case "decode":
			if dp.Value != 50 {
				t.Errorf("decode frames = %d, want 50", dp.Value)
			}
		}
	}
	for _, dp := range g.sum("parley.transcode.bytes").DataPoints {
		if attrString(dp.Attributes, "op") == "encode" && dp.Value != 11100 {
			t.Errorf("encode bytes = %d, want 11100", dp.Value)
		}
	}

	// Latency lands in the matching histogram only.
	if got := g.histogram("parley.encode.duration").DataPoints[0].Count; got != 2 {
		t.Errorf("encode duration samples = %d, want 2", got)
	}
	if got := g.histogram("parley.decode.duration").DataPoints[0].Count; got != 1 {
		t.Errorf("decode duration samples = %d, want 1", got)
	}
}

func TestRecordProviderError(t *testing.T) {
	m := newMeterHarness(t)

	m.RecordProviderError(context.Background(), "openai", "tts")

	sum := m.pull(t).sum("parley.provider.errors")
	if len(sum.DataPoints) != 1 {
		t.Fatalf("%d data points, want 1", len(sum.DataPoints))
	}
	dp := sum.DataPoints[0]
	if dp.Value != 1 {
		t.Errorf("error count = %d, want 1", dp.Value)
	}
	if got := attrString(dp.Attributes, "kind"); got != "tts" {
		t.Errorf("kind attribute = %q, want %q", got, "tts")
	}
}

func TestGauges(t *testing.T) {
	m := newMeterHarness(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)
	m.ActiveTranscodes.Add(ctx, 3)

	g := m.pull(t)
	if got := g.sum("parley.active_streams").DataPoints[0].Value; got != 1 {
		t.Errorf("active_streams = %d, want 1", got)
	}
	if got := g.sum("parley.active_transcodes").DataPoints[0].Value; got != 3 {
		t.Errorf("active_transcodes = %d, want 3", got)
	}
}

func TestAttr(t *testing.T) {
	if got, want := Attr("op", "encode"), attribute.String("op", "encode"); got != want {
		t.Errorf("Attr = %v, want %v", got, want)
	}
}

func TestDefaultMetrics_SharedInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics handed out two distinct instances")
	}
}
