package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// DefaultServiceName is reported when [ProviderConfig.ServiceName] is empty.
const DefaultServiceName = "readaloud"

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them, which still yields trace ids for correlation.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new root traces sampled, in (0, 1].
	// Zero samples everything. Incoming sampled parents are always honoured.
	SampleRatio float64

	// Registerer receives the Prometheus collector behind /metrics.
	// Nil uses the client_golang default registerer.
	Registerer prometheus.Registerer
}

func (c ProviderConfig) sampler() (sdktrace.Sampler, error) {
	switch {
	case c.SampleRatio == 0 || c.SampleRatio == 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case c.SampleRatio < 0 || c.SampleRatio > 1:
		return nil, fmt.Errorf("observe: sample ratio %v outside (0, 1]", c.SampleRatio)
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio)), nil
	}
}

// InitProvider installs the global meter provider (bridged to Prometheus so
// the server's /metrics endpoint serves it), the global tracer provider and a
// W3C trace context propagator. The returned function flushes and closes
// both providers; main defers it with a bounded context.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	sampler, err := cfg.sampler()
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	reader, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
