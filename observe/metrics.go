package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records store and query metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAction counts one reduced action of the given kind.
	RecordAction(ctx context.Context, kind string)

	// RecordEntries adjusts the number of cached entries by delta.
	RecordEntries(ctx context.Context, delta int64)

	// RecordEffect adjusts the number of running effects by delta.
	RecordEffect(ctx context.Context, delta int64)

	// RecordLookup counts a cache lookup made by a query.
	RecordLookup(ctx context.Context, meta FetchMeta, hit bool)

	// RecordFetch records a completed fetch.
	RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, err error)
}

type metricsImpl struct {
	actions      metric.Int64Counter
	entries      metric.Int64UpDownCounter
	effects      metric.Int64UpDownCounter
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	fetchTotal   metric.Int64Counter
	fetchErrors  metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates the cache instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.actions, err = meter.Int64Counter(
		"querycache.actions",
		metric.WithDescription("Actions applied by the store reducer"),
		metric.WithUnit("{action}"),
	); err != nil {
		return nil, err
	}

	if m.entries, err = meter.Int64UpDownCounter(
		"querycache.entries",
		metric.WithDescription("Entries currently held by the store"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.effects, err = meter.Int64UpDownCounter(
		"querycache.effects.active",
		metric.WithDescription("Effects currently running"),
		metric.WithUnit("{effect}"),
	); err != nil {
		return nil, err
	}

	if m.hits, err = meter.Int64Counter(
		"querycache.query.hits",
		metric.WithDescription("Query lookups served from a fresh entry"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.misses, err = meter.Int64Counter(
		"querycache.query.misses",
		metric.WithDescription("Query lookups that triggered a refresh"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.fetchTotal, err = meter.Int64Counter(
		"querycache.fetch.total",
		metric.WithDescription("Total number of fetches"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.fetchErrors, err = meter.Int64Counter(
		"querycache.fetch.errors",
		metric.WithDescription("Total number of failed fetches"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.durationHist, err = meter.Float64Histogram(
		"querycache.fetch.duration_ms",
		metric.WithDescription("Fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordAction(ctx context.Context, kind string) {
	m.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("action.kind", kind)))
}

func (m *metricsImpl) RecordEntries(ctx context.Context, delta int64) {
	if delta != 0 {
		m.entries.Add(ctx, delta)
	}
}

func (m *metricsImpl) RecordEffect(ctx context.Context, delta int64) {
	m.effects.Add(ctx, delta)
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta FetchMeta, hit bool) {
	opt := metric.WithAttributes(attribute.String("query.name", meta.QueryName()))
	if hit {
		m.hits.Add(ctx, 1, opt)
		return
	}
	m.misses.Add(ctx, 1, opt)
}

func (m *metricsImpl) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("query.name", meta.QueryName()))

	m.fetchTotal.Add(ctx, 1, opt)
	if err != nil {
		m.fetchErrors.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (*noopMetrics) RecordAction(context.Context, string)                           {}
func (*noopMetrics) RecordEntries(context.Context, int64)                           {}
func (*noopMetrics) RecordEffect(context.Context, int64)                            {}
func (*noopMetrics) RecordLookup(context.Context, FetchMeta, bool)                  {}
func (*noopMetrics) RecordFetch(context.Context, FetchMeta, time.Duration, error) {}
