package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "gptspeaker".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter receives finished spans. When nil, spans are recorded
	// for log correlation but not exported.
	TraceExporter sdktrace.SpanExporter

	// TraceSampleRatio is the share of new traces sampled, in (0, 1].
	// Zero samples everything.
	TraceSampleRatio float64
}

// Telemetry owns the process-wide meter and tracer providers.
type Telemetry struct {
	// Metrics is bound to the Prometheus-backed meter provider.
	Metrics *Metrics

	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

// InitProvider builds the meter and tracer providers, registers them as the
// OTel globals and returns the resulting [Telemetry]. Metrics are collected
// into a dedicated Prometheus registry together with the Go runtime and
// process collectors; serve them with [Telemetry.Handler].
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gptspeaker"
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return nil, fmt.Errorf("observe: trace sample ratio %v outside [0, 1]", cfg.TraceSampleRatio)
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

	t := &Telemetry{registry: prometheus.NewRegistry()}
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exp, err := promexporter.New(promexporter.WithRegisterer(t.registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	t.shutdown = append(t.shutdown, mp.Shutdown)

	t.Metrics, err = NewMetrics(mp)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.TraceSampleRatio > 0 && cfg.TraceSampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio)
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	t.shutdown = append(t.shutdown, tp.Shutdown)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return t, nil
}

// Handler serves the Prometheus registry in the text exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
