package observe

import (
	"context"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics recording into a manual reader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the counter data point whose attribute key
// equals value, and whether such a point exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func histogramOf(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q is not a populated histogram", name)
	}
	return hist.DataPoints[0]
}

func TestRecordHelpers(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "edge", "chunk", "ok")
	m.RecordProviderRequest(ctx, "edge", "chunk", "ok")
	m.RecordProviderRequest(ctx, "edge", "chunk", "error")
	m.RecordProviderError(ctx, "elevenlabs", "full")
	m.RecordChunkLoad(ctx, "demand", "ok", 200*time.Millisecond)
	m.RecordChunkLoad(ctx, "prefetch", "ok", 300*time.Millisecond)
	m.RecordChunkLoad(ctx, "prefetch", "error", 10*time.Millisecond)
	m.RecordTransition(ctx, "Playing")
	m.RecordTransition(ctx, "Playing")
	m.RecordTransition(ctx, "Stopped")
	m.RecordGuardDrop(ctx, "pause")
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)
	m.RecordCacheLookup(ctx, false)
	m.RecordExport(ctx, "file", "ok")
	m.RecordBreakerTransition(ctx, "edge", "open")
	m.RecordBreakerTransition(ctx, "edge", "half-open")
	m.RecordBreakerTransition(ctx, "edge", "open")

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"readaloud.provider.requests", "status", "ok", 2},
		{"readaloud.provider.requests", "status", "error", 1},
		{"readaloud.provider.errors", "provider", "elevenlabs", 1},
		{"readaloud.chunk.loads", "trigger", "demand", 1},
		{"readaloud.chunk.loads", "result", "error", 1},
		{"readaloud.playback.transitions", "state", "Playing", 2},
		{"readaloud.playback.transitions", "state", "Stopped", 1},
		{"readaloud.guard.drops", "command", "pause", 1},
		{"readaloud.cache.lookups", "result", "hit", 1},
		{"readaloud.cache.lookups", "result", "miss", 2},
		{"readaloud.exports", "backend", "file", 1},
		{"readaloud.breaker.transitions", "state", "open", 2},
	}
	for _, tt := range tests {
		got, ok := sumWhere(t, rm, tt.metric, tt.key, tt.value)
		if !ok || got != tt.want {
			t.Errorf("%s{%s=%s} = %d (found %v), want %d", tt.metric, tt.key, tt.value, got, ok, tt.want)
		}
	}
	if got := histogramOf(t, rm, "readaloud.chunk_load.duration").Count; got != 3 {
		t.Errorf("chunk load samples = %d, want 3", got)
	}
}

func TestLatencyHistograms(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	for _, h := range []metric.Float64Histogram{m.SynthesisDuration, m.ChunkLoadDuration, m.AssemblyDuration} {
		h.Record(ctx, 0.123)
		h.Record(ctx, 7)
	}
	m.HTTPRequestDuration.Record(ctx, 0.05, metric.WithAttributes(
		attribute.String("method", "GET"),
		attribute.String("path", "/healthz"),
	))

	rm := collect(t, reader)
	for _, name := range []string{"readaloud.synthesis.duration", "readaloud.chunk_load.duration", "readaloud.assembly.duration"} {
		dp := histogramOf(t, rm, name)
		if dp.Count != 2 {
			t.Errorf("%s count = %d, want 2", name, dp.Count)
		}
		if !slices.Equal(dp.Bounds, latencyBuckets) {
			t.Errorf("%s bounds = %v", name, dp.Bounds)
		}
	}
	if got := histogramOf(t, rm, "readaloud.http.request.duration").Count; got != 1 {
		t.Errorf("http samples = %d, want 1", got)
	}
}

func TestActivePlaybacks(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ActivePlaybacks.Add(ctx, 1)
	m.ActivePlaybacks.Add(ctx, 1)
	m.ActivePlaybacks.Add(ctx, -1)

	met := findMetric(collect(t, reader), "readaloud.active_playbacks")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || sum.IsMonotonic {
		t.Fatalf("data = %T monotonic=%v, want a non-monotonic sum", met.Data, sum.IsMonotonic)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active playbacks = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()

	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
