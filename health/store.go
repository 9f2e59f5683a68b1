package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querycache/store"
)

// DefaultMaxEffects is the number of running effects above which a store
// reports degraded.
const DefaultMaxEffects = 1000

// StoreCheckerConfig configures StoreChecker.
type StoreCheckerConfig struct {
	// Name overrides the checker name. Default: "store".
	Name string

	// MaxEffects is the active effect count above which the store is
	// degraded. Zero selects DefaultMaxEffects.
	MaxEffects int

	// MaxEntries is the entry count above which the store is degraded.
	// Zero disables the check.
	MaxEntries int
}

// StoreChecker reports the health of a query store.
type StoreChecker struct {
	store  *store.Store
	config StoreCheckerConfig
}

// NewStoreChecker creates a checker for s.
func NewStoreChecker(s *store.Store, config StoreCheckerConfig) *StoreChecker {
	if config.Name == "" {
		config.Name = "store"
	}
	if config.MaxEffects <= 0 {
		config.MaxEffects = DefaultMaxEffects
	}
	if config.MaxEntries < 0 {
		config.MaxEntries = 0
	}
	return &StoreChecker{store: s, config: config}
}

// Name returns the checker name.
func (c *StoreChecker) Name() string {
	return c.config.Name
}

// Check reports unhealthy when the store is closed or gone, degraded when
// effects or entries exceed their limits, and healthy otherwise.
func (c *StoreChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}
	if c.store == nil || c.store.Closed() {
		return Unhealthy("store closed", store.ErrClosed)
	}

	snap := c.store.Snapshot()
	effects := c.store.ActiveEffects()
	details := map[string]any{
		"entries":        snap.Len(),
		"version":        snap.Version(),
		"active_effects": effects,
		"max_effects":    c.config.MaxEffects,
	}

	if effects > c.config.MaxEffects {
		return Degraded(fmt.Sprintf("%d effects running, limit %d", effects, c.config.MaxEffects)).
			WithDetails(details)
	}
	if c.config.MaxEntries > 0 && snap.Len() > c.config.MaxEntries {
		details["max_entries"] = c.config.MaxEntries
		return Degraded(fmt.Sprintf("%d entries cached, limit %d", snap.Len(), c.config.MaxEntries)).
			WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d entries, %d effects", snap.Len(), effects)).WithDetails(details)
}
