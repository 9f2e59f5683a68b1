package store

import (
	"maps"
	"slices"
	"time"

	"github.com/jonwraymond/querycache/keys"
)

// Entry is one cached result. Entries are immutable: every update installs a
// new *Entry, so pointer equality means "unchanged".
type Entry struct {
	Data      any
	Timestamp time.Time
}

// Fresh reports whether the entry is younger than ttl at now.
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.Timestamp) < ttl
}

// Map is the cache contents keyed by canonical store key.
type Map map[string]*Entry

func (m Map) clone(extra int) Map {
	next := make(Map, len(m)+extra)
	maps.Copy(next, m)
	return next
}

// Snapshot is an immutable view of the cache after one reducer step.
type Snapshot struct {
	entries Map
	version uint64
}

// Get returns the entry at the store key, or nil.
func (s Snapshot) Get(key string) *Entry {
	return s.entries[key]
}

// GetParts returns the entry at keys.Join(parts), or nil.
func (s Snapshot) GetParts(parts []string) *Entry {
	return s.entries[keys.Join(parts)]
}

// Len returns the number of entries.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Keys returns the store keys in sorted order.
func (s Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.entries))
}

// Version counts reducer steps. The empty initial snapshot is version 0.
func (s Snapshot) Version() uint64 {
	return s.version
}

// Map returns a copy of the entries.
func (s Snapshot) Map() Map {
	return s.entries.clone(0)
}
