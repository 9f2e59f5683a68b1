package observe

import (
	"context"
	"time"
)

// FetchFunc is the untyped shape of a query fetch.
type FetchFunc func(ctx context.Context, params []any) (any, error)

// Middleware wraps a fetch with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a FetchFunc safe for concurrent use.
//   - Context: the span context is propagated into the wrapped fetch.
//   - Errors: errors from the wrapped fetch are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	t := Telemetry{Tracer: tracer, Metrics: metrics, Logger: logger}.orNop()
	return &Middleware{tracer: t.Tracer, metrics: t.Metrics, logger: t.Logger}
}

// MiddlewareFromTelemetry creates a Middleware from a Telemetry bundle.
func MiddlewareFromTelemetry(t Telemetry) *Middleware {
	return NewMiddleware(t.Tracer, t.Metrics, t.Logger)
}

// Wrap instruments fn for the fetch described by meta.
func (m *Middleware) Wrap(meta FetchMeta, fn FetchFunc) FetchFunc {
	return func(ctx context.Context, params []any) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		result, err := fn(ctx, params)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordFetch(ctx, meta, duration, err)

		fields := []Field{
			{Key: "query", Value: meta.QueryName()},
			{Key: "key", Value: meta.Key},
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if meta.EffectID != "" {
			fields = append(fields, Field{Key: "effect_id", Value: meta.EffectID})
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err})
			m.logger.Warn(ctx, "fetch failed", fields...)
		} else {
			m.logger.Debug(ctx, "fetch completed", fields...)
		}

		return result, err
	}
}
