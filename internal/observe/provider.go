package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Process roles reported as the voxlink.role resource attribute.
const (
	RoleRelay  = "relay"
	RoleClient = "client"
)

// Resource attribute keys describing a voxlink process.
const (
	AttrRole       = attribute.Key("voxlink.role")
	AttrSampleRate = attribute.Key("voxlink.sample_rate")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceVersion is the build version reported in telemetry.
	ServiceVersion string

	// Role is RoleRelay for `voxlink serve` and RoleClient for
	// `voxlink stream`.
	Role string

	// SampleRate is the stream sample rate the process was configured with.
	SampleRate int

	// TraceExporter receives finished spans. When nil, spans are recorded
	// but not exported.
	TraceExporter sdktrace.SpanExporter

	// MetricReader replaces the Prometheus exporter; tests pass a manual
	// reader because the exporter registers with the global registry.
	MetricReader sdkmetric.Reader
}

// Resource builds the resource describing this voxlink process. Every
// process gets a fresh service.instance.id so that several clients streaming
// into one relay stay apart.
func Resource(cfg ProviderConfig) (*resource.Resource, error) {
	kv := []attribute.KeyValue{
		semconv.ServiceName("voxlink"),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	if cfg.ServiceVersion != "" {
		kv = append(kv, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Role != "" {
		kv = append(kv, AttrRole.String(cfg.Role))
	}
	if cfg.SampleRate > 0 {
		kv = append(kv, AttrSampleRate.Int(cfg.SampleRate))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, kv...))
}

// InitProvider registers global meter and tracer providers for a voxlink
// process. Metrics go to the Prometheus exporter served on /metrics unless
// cfg.MetricReader is set.
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	reader := cfg.MetricReader
	if reader == nil {
		exp, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		reader = exp
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
