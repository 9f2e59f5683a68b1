package store

import (
	"slices"
	"time"

	"github.com/jonwraymond/querycache/keys"
)

// Action is an immutable description of one cache mutation. The set of
// actions is closed: Update, Invalidate, Clear and Expire.
type Action interface {
	// Kind names the action for logs and metrics.
	Kind() string

	isAction()
}

// Update upserts the entry at keys.Join(Key).
type Update struct {
	Key       []string
	Payload   any
	Timestamp time.Time
}

// Invalidate removes every entry whose key parts contain all of Parts, in any
// order and not necessarily contiguous. An empty Parts matches every entry.
type Invalidate struct {
	Parts []string
}

// Clear removes every entry.
type Clear struct{}

// Expire removes entries written before Before.
type Expire struct {
	Before time.Time
}

func (Update) Kind() string     { return "update" }
func (Invalidate) Kind() string { return "invalidate" }
func (Clear) Kind() string      { return "clear" }
func (Expire) Kind() string     { return "expire" }

func (Update) isAction()     {}
func (Invalidate) isAction() {}
func (Clear) isAction()      {}
func (Expire) isAction()     {}

// barrier is an internal marker; the reducer closes done once every action
// queued before it has been applied and published.
type barrier struct {
	done chan struct{}
}

func (barrier) Kind() string { return "barrier" }
func (barrier) isAction()    {}

// Reduce applies a to m and returns the next map. m is never modified; the
// result is always a fresh map, even when nothing changed.
func Reduce(m Map, a Action) Map {
	switch a := a.(type) {
	case Update:
		next := m.clone(1)
		next[keys.Join(a.Key)] = &Entry{Data: a.Payload, Timestamp: a.Timestamp}
		return next

	case Invalidate:
		next := make(Map, len(m))
		for k, e := range m {
			if !containsAll(keys.Split(k), a.Parts) {
				next[k] = e
			}
		}
		return next

	case Clear:
		return Map{}

	case Expire:
		next := make(Map, len(m))
		for k, e := range m {
			if !e.Timestamp.Before(a.Before) {
				next[k] = e
			}
		}
		return next

	default:
		return m.clone(0)
	}
}

// containsAll reports whether every element of want occurs in have.
func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
