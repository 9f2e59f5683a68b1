// Package store implements the cache store: a map from canonical key to
// cached entry that changes only through actions.
//
// Actions (Update, Invalidate, Clear, Expire) are queued in one FIFO mailbox
// and folded by a pure reducer on a single goroutine. Every step publishes
// an immutable Snapshot to replay-latest subscribers. Effects are goroutines
// that dispatch into the same mailbox; their completion signal is the
// context they were registered with.
//
// Flight and Fenced run fetches on behalf of queries. An Invalidate or Clear
// that matches a running fetch supersedes it, so its result is never cached
// and the next caller starts over.
//
// Example:
//
//	s := store.New(store.WithSweep(time.Minute, 5*time.Minute))
//	defer s.Close()
//
//	_ = s.UpdateValues([]string{"buy milk"}, "todos", 1)
//	_ = s.Invalidate("todos")
package store
