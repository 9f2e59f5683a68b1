package params

import (
	"context"
	"slices"
	"sync"

	"github.com/jonwraymond/querycache/broadcast"
)

// Stream is a replay-latest source of untyped values. Subscribe delivers the
// current value, if any, before returning, then every later value until ctx
// is done.
type Stream interface {
	Subscribe(ctx context.Context, fn func(any))
}

// Source is implemented by live values that can present themselves as a
// Stream.
type Source interface {
	Stream() Stream
}

// Subscriber is any typed replay-latest stream, such as *broadcast.Value[T].
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, fn func(T))
}

type typed[T any] struct {
	src Subscriber[T]
}

// From adapts a typed stream to a Stream.
func From[T any](src Subscriber[T]) Stream {
	return typed[T]{src: src}
}

func (s typed[T]) Subscribe(ctx context.Context, fn func(any)) {
	s.src.Subscribe(ctx, func(v T) { fn(v) })
}

// constant emits its value once.
type constant struct {
	val any
}

func (c constant) Subscribe(ctx context.Context, fn func(any)) {
	if ctx.Err() == nil {
		fn(c.val)
	}
}

// Var is a settable live value.
type Var[T any] struct {
	v *broadcast.Value[T]
}

// NewVar creates a Var holding initial.
func NewVar[T any](initial T) *Var[T] {
	return &Var[T]{v: broadcast.NewValueOf(initial)}
}

// Set publishes a new value to every subscriber.
func (v *Var[T]) Set(val T) {
	v.v.Publish(val)
}

// Get returns the current value.
func (v *Var[T]) Get() T {
	val, _ := v.v.Latest()
	return val
}

// Subscribe delivers the current value, then every later one, until ctx is
// done.
func (v *Var[T]) Subscribe(ctx context.Context, fn func(T)) {
	v.v.Subscribe(ctx, fn)
}

// Stream returns v as an untyped Stream.
func (v *Var[T]) Stream() Stream {
	return From[T](v)
}

// Tuple combines the latest values of its elements.
type Tuple struct {
	elems  []Stream
	static []any
}

// Adapt builds a Tuple. Elements implementing Stream or Source are live;
// anything else is a constant that emits once.
func Adapt(elems ...any) *Tuple {
	t := &Tuple{elems: make([]Stream, len(elems))}
	static := true
	for i, e := range elems {
		switch s := e.(type) {
		case Stream:
			t.elems[i] = s
			static = false
		case Source:
			t.elems[i] = s.Stream()
			static = false
		default:
			t.elems[i] = constant{val: e}
		}
	}
	if static {
		t.static = slices.Clone(elems)
		if t.static == nil {
			t.static = []any{}
		}
	}
	return t
}

// Len returns the number of elements.
func (t *Tuple) Len() int {
	return len(t.elems)
}

// Static returns the values of an all-constant tuple.
func (t *Tuple) Static() ([]any, bool) {
	if t.static == nil {
		return nil, false
	}
	return slices.Clone(t.static), true
}

// Subscribe calls fn with a fresh slice every time the tuple changes, once
// every element has emitted at least once. Partial tuples are never
// emitted. Calls to fn are serialized. If every element already holds a
// value, the first call happens before Subscribe returns.
func (t *Tuple) Subscribe(ctx context.Context, fn func([]any)) {
	if ctx.Err() != nil {
		return
	}
	if vals, ok := t.Static(); ok {
		fn(vals)
		return
	}

	var (
		mu      sync.Mutex
		latest  = make([]any, len(t.elems))
		have    = make([]bool, len(t.elems))
		missing = len(t.elems)
	)
	for i, s := range t.elems {
		s.Subscribe(ctx, func(v any) {
			mu.Lock()
			defer mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			latest[i] = v
			if !have[i] {
				have[i] = true
				missing--
			}
			if missing == 0 {
				fn(slices.Clone(latest))
			}
		})
	}
}
