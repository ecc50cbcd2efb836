package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestResource_DescribesProcess(t *testing.T) {
	t.Parallel()
	res, err := Resource(ProviderConfig{ServiceVersion: "1.2.3", Role: RoleRelay, SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"service.name":        "voxlink",
		"service.version":     "1.2.3",
		"voxlink.role":        "relay",
		"voxlink.sample_rate": "16000",
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if got["service.instance.id"] == "" {
		t.Error("service.instance.id missing")
	}

	other, _ := Resource(ProviderConfig{Role: RoleClient})
	for _, kv := range other.Attributes() {
		if kv.Key == "service.instance.id" && kv.Value.Emit() == got["service.instance.id"] {
			t.Error("two processes share an instance id")
		}
	}
}

func TestInitProvider_RegistersGlobals(t *testing.T) {
	origTP, origMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	reader := sdkmetric.NewManualReader()
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		Role:          RoleClient,
		SampleRate:    16000,
		TraceExporter: exp,
		MetricReader:  reader,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithPipeline(context.Background(), Pipeline{Address: "ws://relay/ws/a"})
	ctx, span := StartSpan(ctx, "session.run")
	m.RecordFrames(ctx, "session", 1, 0)
	span.End()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if v, ok := rm.Resource.Set().Value(AttrRole); !ok || v.AsString() != RoleClient {
		t.Errorf("metric resource role = %v", v)
	}

	// The in-memory exporter forgets its spans on shutdown, so flush first.
	if err := otel.GetTracerProvider().(*sdktrace.TracerProvider).ForceFlush(context.Background()); err != nil {
		t.Fatal(err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.run" {
		t.Fatalf("exported spans = %v", spans)
	}
	if v, _ := spanAttr(spans[0], AttrAddress); v != "ws://relay/ws/a" {
		t.Errorf("address = %q", v)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
