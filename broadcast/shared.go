package broadcast

import (
	"context"
	"sync"
)

// StartFunc runs the upstream of a Shared stream. It publishes into out and
// must stop publishing once ctx is done. It may block only briefly: work that
// outlives the call belongs in goroutines bound to ctx.
type StartFunc[T any] func(ctx context.Context, out *Value[T])

// Shared multiplexes one upstream computation across many subscribers.
//
// The first subscriber starts the upstream; later subscribers immediately
// receive its latest value. When the last subscriber leaves, the upstream
// context is cancelled and the latest value is discarded, so the next
// subscriber starts over from scratch.
type Shared[T any] struct {
	start StartFunc[T]

	mu  sync.Mutex
	gen *generation[T]
}

// generation is one run of the upstream, from first subscriber to last.
type generation[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    *Value[T]
	refs   int
}

// NewShared creates a Shared stream around start.
func NewShared[T any](start StartFunc[T]) *Shared[T] {
	return &Shared[T]{start: start}
}

// Subscribe attaches fn until ctx is done. As with Value.Subscribe, the
// latest value is delivered before Subscribe returns; when this call starts
// the upstream, whatever the upstream publishes synchronously counts as
// latest.
func (s *Shared[T]) Subscribe(ctx context.Context, fn func(T)) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	g := s.gen
	fresh := g == nil
	if fresh {
		gctx, cancel := context.WithCancel(context.Background())
		g = &generation[T]{ctx: gctx, cancel: cancel, out: NewValue[T]()}
		s.gen = g
	}
	g.refs++
	s.mu.Unlock()

	if fresh {
		s.start(g.ctx, g.out)
	}
	g.out.Subscribe(ctx, fn)
	context.AfterFunc(ctx, func() { s.release(g) })
}

func (s *Shared[T]) release(g *generation[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g.refs--
	if g.refs > 0 {
		return
	}
	if s.gen == g {
		s.gen = nil
	}
	g.cancel()
	g.out.Close()
}

// Refs returns the number of attached subscribers.
func (s *Shared[T]) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == nil {
		return 0
	}
	return s.gen.refs
}

// Latest returns the latest value of the running upstream, if any.
func (s *Shared[T]) Latest() (T, bool) {
	s.mu.Lock()
	g := s.gen
	s.mu.Unlock()

	if g == nil {
		var zero T
		return zero, false
	}
	return g.out.Latest()
}
