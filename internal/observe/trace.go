package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every voxlink span.
const tracerName = "github.com/MrWong99/voxlink"

// Span attribute keys identifying an audio stream.
const (
	AttrRoom        = attribute.Key("voxlink.room")
	AttrPeer        = attribute.Key("voxlink.peer")
	AttrRecordingID = attribute.Key("voxlink.recording_id")
	AttrAddress     = attribute.Key("voxlink.address")
)

// Pipeline names the audio stream a piece of work belongs to: a relay peer
// in a room, or a client session streaming to an address. Empty fields are
// left out of spans and logs.
type Pipeline struct {
	Room        string
	Peer        string
	RecordingID string
	Address     string
}

// merge overlays the non-empty fields of o on p.
func (p Pipeline) merge(o Pipeline) Pipeline {
	if o.Room != "" {
		p.Room = o.Room
	}
	if o.Peer != "" {
		p.Peer = o.Peer
	}
	if o.RecordingID != "" {
		p.RecordingID = o.RecordingID
	}
	if o.Address != "" {
		p.Address = o.Address
	}
	return p
}

func (p Pipeline) attributes() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if p.Room != "" {
		kv = append(kv, AttrRoom.String(p.Room))
	}
	if p.Peer != "" {
		kv = append(kv, AttrPeer.String(p.Peer))
	}
	if p.RecordingID != "" {
		kv = append(kv, AttrRecordingID.String(p.RecordingID))
	}
	if p.Address != "" {
		kv = append(kv, AttrAddress.String(p.Address))
	}
	return kv
}

func (p Pipeline) logArgs() []any {
	var args []any
	if p.Room != "" {
		args = append(args, slog.String("room", p.Room))
	}
	if p.Peer != "" {
		args = append(args, slog.String("peer", p.Peer))
	}
	if p.RecordingID != "" {
		args = append(args, slog.String("recording_id", p.RecordingID))
	}
	if p.Address != "" {
		args = append(args, slog.String("address", p.Address))
	}
	return args
}

type pipelineKey struct{}

// WithPipeline returns a copy of ctx carrying p, merged over any pipeline ctx
// already carries.
func WithPipeline(ctx context.Context, p Pipeline) context.Context {
	return context.WithValue(ctx, pipelineKey{}, PipelineFrom(ctx).merge(p))
}

// PipelineFrom returns the pipeline carried by ctx.
func PipelineFrom(ctx context.Context) Pipeline {
	p, _ := ctx.Value(pipelineKey{}).(Pipeline)
	return p
}

// Annotate adds p to ctx and to the span active in ctx. Use it for
// identifiers that only become known after the span started, such as the
// recording ID of a relay peer.
func Annotate(ctx context.Context, p Pipeline) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(p.attributes()...)
	return WithPipeline(ctx, p)
}

// StartSpan starts a span tagged with the pipeline carried by ctx. The caller
// must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if kv := PipelineFrom(ctx).attributes(); len(kv) > 0 {
		opts = append(opts, trace.WithAttributes(kv...))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It doubles as the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the pipeline carried by ctx
// and the trace_id and span_id of its span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if args := PipelineFrom(ctx).logArgs(); len(args) > 0 {
		l = l.With(args...)
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
