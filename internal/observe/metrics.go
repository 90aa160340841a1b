// Package observe wires readaloud into OpenTelemetry: metric instruments,
// spans and the trace-aware slog helpers, plus the HTTP middleware that ties
// them to requests.
//
// [InitProvider] installs global providers and bridges metrics to a
// Prometheus registry for /metrics. Code paths without an injected [Metrics]
// fall back to [DefaultMetrics]; tests build their own with [NewMetrics] and
// a manual reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/readaloud"

// Metrics holds the instruments readaloud records into. The zero value is
// not usable; build one with [NewMetrics].
type Metrics struct {
	// Latencies in seconds.
	SynthesisDuration   metric.Float64Histogram // attr kind: full|chunk|stream
	ChunkLoadDuration   metric.Float64Histogram
	AssemblyDuration    metric.Float64Histogram
	HTTPRequestDuration metric.Float64Histogram // attrs method, path, status

	ProviderRequests    metric.Int64Counter // attrs provider, kind, status
	ProviderErrors      metric.Int64Counter // attrs provider, kind
	ChunkLoads          metric.Int64Counter // attrs trigger, result
	PlaybackTransitions metric.Int64Counter // attr state
	GuardDrops          metric.Int64Counter // attr command
	CacheLookups        metric.Int64Counter // attr result: hit|miss
	Exports             metric.Int64Counter // attrs backend, status
	BreakerTransitions  metric.Int64Counter // attrs provider, state

	ActivePlaybacks metric.Int64UpDownCounter
}

// Synthesis calls span cache hits in milliseconds to provider round trips of
// tens of seconds.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	var errs []error
	histogram := func(dst *metric.Float64Histogram, name, desc string, buckets ...float64) {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if len(buckets) > 0 {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		*dst = h
	}
	counter := func(dst *metric.Int64Counter, name, desc string) {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		*dst = c
	}

	histogram(&m.SynthesisDuration, "readaloud.synthesis.duration", "Latency of text-to-speech synthesis.", latencyBuckets...)
	histogram(&m.ChunkLoadDuration, "readaloud.chunk_load.duration", "Latency of a single chunk load in the playback engine.", latencyBuckets...)
	histogram(&m.AssemblyDuration, "readaloud.assembly.duration", "Latency of download artifact assembly.", latencyBuckets...)
	histogram(&m.HTTPRequestDuration, "readaloud.http.request.duration", "HTTP request latency by method and route.")

	counter(&m.ProviderRequests, "readaloud.provider.requests", "Provider API requests by provider, kind and status.")
	counter(&m.ProviderErrors, "readaloud.provider.errors", "Provider errors by provider and kind.")
	counter(&m.ChunkLoads, "readaloud.chunk.loads", "Chunk loads by trigger and result.")
	counter(&m.PlaybackTransitions, "readaloud.playback.transitions", "Playback state transitions by target state.")
	counter(&m.GuardDrops, "readaloud.guard.drops", "Commands dropped by the transition guard.")
	counter(&m.CacheLookups, "readaloud.cache.lookups", "Synthesis cache lookups by result.")
	counter(&m.Exports, "readaloud.exports", "Saved download artifacts by backend and status.")
	counter(&m.BreakerTransitions, "readaloud.breaker.transitions", "Provider circuit breaker transitions by target state.")

	var err error
	if m.ActivePlaybacks, err = meter.Int64UpDownCounter("readaloud.active_playbacks",
		metric.WithDescription("Live playback runs.")); err != nil {
		errs = append(errs, fmt.Errorf("readaloud.active_playbacks: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider at first use. Call [InitProvider] before it to have the
// instruments exported.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, kv ...string) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderRequest counts one provider call; status is "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.add(ctx, m.ProviderRequests, "provider", provider, "kind", kind, "status", status)
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.add(ctx, m.ProviderErrors, "provider", provider, "kind", kind)
}

// RecordChunkLoad counts a chunk load and observes how long it took.
func (m *Metrics) RecordChunkLoad(ctx context.Context, trigger, result string, d time.Duration) {
	m.add(ctx, m.ChunkLoads, "trigger", trigger, "result", result)
	m.ChunkLoadDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.add(ctx, m.PlaybackTransitions, "state", state)
}

func (m *Metrics) RecordGuardDrop(ctx context.Context, command string) {
	m.add(ctx, m.GuardDrops, "command", command)
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.add(ctx, m.CacheLookups, "result", result)
}

// RecordExport counts a saved or failed download artifact.
func (m *Metrics) RecordExport(ctx context.Context, backend, status string) {
	m.add(ctx, m.Exports, "backend", backend, "status", status)
}

// RecordBreakerTransition counts the breaker of provider entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.add(ctx, m.BreakerTransitions, "provider", provider, "state", state)
}
