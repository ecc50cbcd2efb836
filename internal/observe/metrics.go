// Package observe provides application-wide observability primitives for
// voxlink: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxlink metrics.
const meterName = "github.com/MrWong99/voxlink"

// Pipeline stages used as the "stage" attribute of [Metrics.FramesDropped].
const (
	StageCapture  = "capture"
	StageOutbound = "outbound"
	StageJitter   = "jitter"
	StageRecorder = "recorder"
	StageRelay    = "relay"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Frame counters ---

	// FramesSent counts binary PCM messages written to a connection. Use with
	// attribute.String("component", "client"|"relay").
	FramesSent metric.Int64Counter

	// FramesReceived counts binary PCM messages read from a connection.
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames discarded by a bounded queue. Use with
	// attribute.String("stage", ...).
	FramesDropped metric.Int64Counter

	// MalformedFrames counts payloads rejected for odd or zero length.
	MalformedFrames metric.Int64Counter

	// --- Playback ---

	// Underruns counts playback underrun episodes.
	Underruns metric.Int64Counter

	// ScheduleLead tracks how far ahead of the device clock frames are
	// scheduled.
	ScheduleLead metric.Float64Histogram

	// JitterDepth is the number of frames waiting in the jitter queue.
	JitterDepth metric.Int64Gauge

	// --- Relay ---

	ActivePeers metric.Int64UpDownCounter
	ActiveRooms metric.Int64UpDownCounter

	// --- Recording ---

	// RecordingChunks counts chunks appended to the recording store.
	RecordingChunks metric.Int64Counter

	// RecordingFailures counts failed store appends.
	RecordingFailures metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// leadBuckets defines histogram bucket boundaries (in seconds) for
// scheduling lead. A frame is 256 ms at the default settings.
var leadBuckets = []float64{
	0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("voxlink.frames.sent",
		metric.WithDescription("PCM frames written to a connection."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voxlink.frames.received",
		metric.WithDescription("PCM frames read from a connection."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxlink.frames.dropped",
		metric.WithDescription("Frames evicted from a bounded queue, by stage."),
	); err != nil {
		return nil, err
	}
	if met.MalformedFrames, err = m.Int64Counter("voxlink.frames.malformed",
		metric.WithDescription("Binary payloads rejected as malformed."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("voxlink.playback.underruns",
		metric.WithDescription("Playback underrun episodes."),
	); err != nil {
		return nil, err
	}
	if met.RecordingChunks, err = m.Int64Counter("voxlink.recording.chunks",
		metric.WithDescription("Chunks appended to the recording store."),
	); err != nil {
		return nil, err
	}
	if met.RecordingFailures, err = m.Int64Counter("voxlink.recording.failures",
		metric.WithDescription("Failed recording store appends."),
	); err != nil {
		return nil, err
	}

	// Histograms and gauges.
	if met.ScheduleLead, err = m.Float64Histogram("voxlink.playback.lead",
		metric.WithDescription("Lead of scheduled frames over the device clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JitterDepth, err = m.Int64Gauge("voxlink.playback.jitter_depth",
		metric.WithDescription("Frames waiting in the playback jitter queue."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePeers, err = m.Int64UpDownCounter("voxlink.relay.active_peers",
		metric.WithDescription("Number of connected relay peers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRooms, err = m.Int64UpDownCounter("voxlink.relay.active_rooms",
		metric.WithDescription("Number of relay rooms with at least one peer."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrames adds sent and received frame counts for component. Zero
// deltas are skipped.
func (m *Metrics) RecordFrames(ctx context.Context, component string, sent, received int64) {
	attrs := metric.WithAttributes(attribute.String("component", component))
	if sent > 0 {
		m.FramesSent.Add(ctx, sent, attrs)
	}
	if received > 0 {
		m.FramesReceived.Add(ctx, received, attrs)
	}
}

// RecordDropped adds n dropped frames for the given pipeline stage.
func (m *Metrics) RecordDropped(ctx context.Context, stage string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordMalformed adds n malformed payloads seen by component.
func (m *Metrics) RecordMalformed(ctx context.Context, component string, n int64) {
	if n <= 0 {
		return
	}
	m.MalformedFrames.Add(ctx, n, metric.WithAttributes(attribute.String("component", component)))
}

// RecordRecording adds appended chunk and failure counts.
func (m *Metrics) RecordRecording(ctx context.Context, chunks, failures int64) {
	if chunks > 0 {
		m.RecordingChunks.Add(ctx, chunks)
	}
	if failures > 0 {
		m.RecordingFailures.Add(ctx, failures)
	}
}
