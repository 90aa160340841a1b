package observe

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the readaloud tracer.
const tracerName = "github.com/MrWong99/readaloud"

// Span attribute keys shared by synthesis and playback spans.
const (
	AttrVoice      = attribute.Key("readaloud.voice")
	AttrKind       = attribute.Key("readaloud.synth.kind")
	AttrTextRunes  = attribute.Key("readaloud.text.runes")
	AttrChunkIndex = attribute.Key("readaloud.chunk.index")
	AttrTrigger    = attribute.Key("readaloud.chunk.trigger")
	AttrProvider   = attribute.Key("readaloud.provider")
)

// Tracer returns the readaloud tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SynthesisAttrs describes one synthesis request on a span.
func SynthesisAttrs(kind, voice, text string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrKind.String(kind),
		AttrVoice.String(voice),
		AttrTextRunes.Int(utf8.RuneCountInString(text)),
	}
}

// FailSpan marks span as failed with err. A nil err is ignored.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// It doubles as the X-Correlation-ID returned to HTTP clients.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// LoggerFrom returns base enriched with trace_id and span_id from ctx. A nil
// base means slog.Default().
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
