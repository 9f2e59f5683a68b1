package broadcast

import (
	"context"
	"sync"
)

// node is one publication. Nodes form a singly linked list; ready is closed
// once next (or the end of the stream) is known.
type node[T any] struct {
	val   T
	ok    bool
	next  *node[T]
	ready chan struct{}
}

// Value is a replay-latest broadcast stream.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ordering: each subscriber observes values in publication order, none skipped.
//   - Ownership: published values are shared between subscribers and must not be mutated.
type Value[T any] struct {
	mu     sync.Mutex
	head   *node[T]
	closed bool
}

// NewValue creates an empty stream. Subscribers receive nothing until the
// first Publish.
func NewValue[T any]() *Value[T] {
	return &Value[T]{head: &node[T]{ready: make(chan struct{})}}
}

// NewValueOf creates a stream whose latest value is initial.
func NewValueOf[T any](initial T) *Value[T] {
	return &Value[T]{head: &node[T]{val: initial, ok: true, ready: make(chan struct{})}}
}

// Publish appends v to the stream. Publishing after Close is a no-op.
func (v *Value[T]) Publish(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	n := &node[T]{val: val, ok: true, ready: make(chan struct{})}
	v.head.next = n
	close(v.head.ready)
	v.head = n
}

// Latest returns the most recently published value.
func (v *Value[T]) Latest() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.head.val, v.head.ok
}

// Close ends the stream. Subscriber goroutines exit after delivering any
// values published before Close.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true
	close(v.head.ready)
}

// Closed reports whether Close has been called.
func (v *Value[T]) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Subscribe calls fn with the latest value, synchronously, before returning.
// Every later value is delivered in order on a dedicated goroutine until ctx
// is done or the stream is closed. fn must not block for long: it holds up
// only this subscriber, but the subscriber retains every value it has not
// consumed yet.
func (v *Value[T]) Subscribe(ctx context.Context, fn func(T)) {
	if ctx.Err() != nil {
		return
	}

	v.mu.Lock()
	cur := v.head
	v.mu.Unlock()

	if cur.ok {
		fn(cur.val)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cur.ready:
			}
			if cur.next == nil {
				return
			}
			cur = cur.next
			if ctx.Err() != nil {
				return
			}
			fn(cur.val)
		}
	}()
}
