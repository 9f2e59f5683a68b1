package query

import "time"

// DefaultTTL is how long a cached result is served without refreshing.
const DefaultTTL = 5 * time.Minute

// Policy configures freshness for queries.
type Policy struct {
	// DefaultTTL is the TTL to use when none is specified.
	// If zero, every read refreshes.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Per-query TTLs are clamped to it.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default freshness policy.
// DefaultTTL: 5 minutes, no MaxTTL.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: DefaultTTL}
}

// NoCachePolicy returns a policy under which cached entries are never fresh.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if entries can ever be fresh under this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
