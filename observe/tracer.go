package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// FetchMeta describes one query fetch for telemetry purposes.
type FetchMeta struct {
	Query    string // Query name (optional, defaults to "query")
	Key      string // Canonical store key
	EffectID string // ID of the refresh effect running the fetch (optional)
}

// QueryName returns the query name, defaulting to "query".
func (m FetchMeta) QueryName() string {
	if m.Query != "" {
		return m.Query
	}
	return "query"
}

// SpanName returns the deterministic span name for this fetch.
// Format: querycache.fetch.<query>
func (m FetchMeta) SpanName() string {
	return "querycache.fetch." + m.QueryName()
}

func (m FetchMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("query.name", m.QueryName()),
		attribute.String("query.key", m.Key),
	}
	if m.EffectID != "" {
		attrs = append(attrs, attribute.String("query.effect_id", m.EffectID))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with fetch-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a fetch.
	StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer on top of an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return newNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("query.error", false))
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("query.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
