package query

import (
	"time"

	"github.com/jonwraymond/querycache/observe"
)

type options struct {
	ttl       time.Duration
	policy    Policy
	silent    bool
	dedup     bool
	name      string
	telemetry observe.Telemetry
}

func defaultOptions() options {
	return options{
		policy:    DefaultPolicy(),
		dedup:     true,
		telemetry: observe.NopTelemetry(),
	}
}

// Option configures a Query.
type Option func(*options)

// WithTTL sets how long a cached result stays fresh. Zero or negative
// selects the policy default.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithPolicy replaces the default freshness policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithSilentErrors drops fetch failures instead of publishing them: the
// state stays Loading until something else changes the entry.
func WithSilentErrors() Option {
	return func(o *options) {
		o.silent = true
	}
}

// WithoutDedup lets every refresh call fetch, even while another refresh
// of the same key is in flight on the same store.
func WithoutDedup() Option {
	return func(o *options) {
		o.dedup = false
	}
}

// WithDedup sets whether concurrent refreshes of a key share one fetch.
func WithDedup(enabled bool) Option {
	return func(o *options) {
		o.dedup = enabled
	}
}

// WithName names the query in logs, spans and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) {
		o.telemetry.Logger = l
	}
}

// WithTelemetry sets tracer, metrics and logger.
func WithTelemetry(t observe.Telemetry) Option {
	return func(o *options) {
		o.telemetry = t
	}
}
