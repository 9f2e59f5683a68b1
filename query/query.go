package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/querycache/broadcast"
	"github.com/jonwraymond/querycache/keys"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/params"
	"github.com/jonwraymond/querycache/store"
)

// FetchFunc loads the result for one key tuple.
type FetchFunc[R any] func(ctx context.Context, params []any) (R, error)

// State is what a query subscriber sees.
type State[R any] struct {
	// Loading is true while no usable result is available for Key.
	Loading bool

	// Data is the cached result. It is the zero value while loading, on
	// error, or when the fetch itself returned nil.
	Data R

	// Err is the last fetch failure, or a key that could not be
	// canonicalized.
	Err error

	// Key is the canonical store key the state belongs to.
	Key string
}

// HasData reports whether Data holds a result.
func (s State[R]) HasData() bool {
	return !s.Loading && s.Err == nil
}

// Query serves cached results for a key and refreshes them when they are
// missing or stale.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Sharing: all subscribers share one pipeline, started by the first and
//     torn down when the last one leaves.
//   - Ordering: each subscriber sees states in the order they were produced.
type Query[R any] struct {
	store *store.Store
	tuple *params.Tuple
	fetch FetchFunc[R]
	opts  options
	ttl   time.Duration
	mw    *observe.Middleware

	shared *broadcast.Shared[State[R]]

	mu     sync.Mutex
	active *pipeline[R]
}

// New creates a query over s. Each element of key is either a constant or a
// live value (params.Stream or params.Source); the key is re-evaluated
// whenever a live element changes. A constant key that cannot be
// canonicalized is rejected with a *keys.SerializationError.
func New[R any](s *store.Store, key []any, fetch FetchFunc[R], opts ...Option) (*Query[R], error) {
	if s == nil {
		return nil, ErrNilStore
	}
	if fetch == nil {
		return nil, ErrNilFetch
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.telemetry = o.telemetry.Complete()

	tuple := params.Adapt(key...)
	if vals, ok := tuple.Static(); ok {
		if _, err := keys.Canonicalize(vals...); err != nil {
			return nil, err
		}
	}

	q := &Query[R]{
		store: s,
		tuple: tuple,
		fetch: fetch,
		opts:  o,
		ttl:   o.policy.EffectiveTTL(o.ttl),
		mw:    observe.MiddlewareFromTelemetry(o.telemetry),
	}
	q.shared = broadcast.NewShared(q.start)
	return q, nil
}

// Subscribe attaches fn until ctx is done. The current state is delivered
// before Subscribe returns; for the first subscriber that is either the
// cached data or Loading.
func (q *Query[R]) Subscribe(ctx context.Context, fn func(State[R])) {
	q.shared.Subscribe(ctx, fn)
}

// Latest returns the most recent state while the query has subscribers.
func (q *Query[R]) Latest() (State[R], bool) {
	return q.shared.Latest()
}

// Subscribers returns the number of attached subscribers.
func (q *Query[R]) Subscribers() int {
	return q.shared.Refs()
}

// TTL returns the effective time-to-live.
func (q *Query[R]) TTL() time.Duration {
	return q.ttl
}

// Refetch refreshes the current key regardless of freshness. It does
// nothing while the query has no subscribers.
func (q *Query[R]) Refetch() {
	q.mu.Lock()
	p := q.active
	q.mu.Unlock()

	if p != nil {
		p.refetch()
	}
}

func (q *Query[R]) logger() observe.Logger {
	return q.opts.telemetry.Logger
}

func (q *Query[R]) metrics() observe.Metrics {
	return q.opts.telemetry.Metrics
}

// start runs one pipeline generation; ctx ends with the last subscriber.
func (q *Query[R]) start(ctx context.Context, out *broadcast.Value[State[R]]) {
	p := &pipeline[R]{q: q, ctx: ctx, out: out}

	q.mu.Lock()
	q.active = p
	q.mu.Unlock()

	context.AfterFunc(ctx, func() {
		q.mu.Lock()
		if q.active == p {
			q.active = nil
		}
		q.mu.Unlock()
		p.stop()
	})

	q.tuple.Subscribe(ctx, p.onParams)
}

// pipeline follows the key tuple and keeps one instance alive for the
// current key.
type pipeline[R any] struct {
	q   *Query[R]
	ctx context.Context
	out *broadcast.Value[State[R]]

	mu      sync.Mutex
	cur     *instance[R]
	stopped bool
}

func (p *pipeline[R]) onParams(vals []any) {
	parts, err := keys.Canonicalize(vals...)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	prev := p.cur
	var next *instance[R]
	if err == nil {
		key := keys.Join(parts)
		if prev != nil && prev.key == key {
			p.mu.Unlock()
			return
		}
		next = newInstance(p, key, parts, vals)
	}
	p.cur = next
	p.mu.Unlock()

	if prev != nil {
		prev.stop()
		p.q.logger().Debug(p.ctx, "query key changed",
			observe.Field{Key: "query", Value: p.q.opts.name},
			observe.Field{Key: "from", Value: prev.key},
		)
	}
	if err != nil {
		p.q.logger().Warn(p.ctx, "query key rejected",
			observe.Field{Key: "query", Value: p.q.opts.name},
			observe.Field{Key: "error", Value: err},
		)
		p.out.Publish(State[R]{Err: err})
		return
	}
	next.start()
}

func (p *pipeline[R]) refetch() {
	p.mu.Lock()
	cur := p.cur
	p.mu.Unlock()

	if cur != nil {
		cur.refetch()
	}
}

func (p *pipeline[R]) stop() {
	p.mu.Lock()
	p.stopped = true
	cur := p.cur
	p.cur = nil
	p.mu.Unlock()

	if cur != nil {
		cur.stop()
	}
}

// instance serves one canonical key. Once stopped it neither publishes nor
// dispatches.
type instance[R any] struct {
	p      *pipeline[R]
	key    string
	parts  []string
	params []any
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	stopped     bool
	seen        bool
	last        *store.Entry
	loading     bool
	refreshed   bool
	refreshedAt time.Time
	seq         uint64
}

func newInstance[R any](p *pipeline[R], key string, parts []string, vals []any) *instance[R] {
	ctx, cancel := context.WithCancel(p.ctx)
	return &instance[R]{
		p:      p,
		key:    key,
		parts:  parts,
		params: vals,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (inst *instance[R]) meta(effectID string) observe.FetchMeta {
	return observe.FetchMeta{Query: inst.p.q.opts.name, Key: inst.key, EffectID: effectID}
}

func (inst *instance[R]) start() {
	inst.p.q.store.Subscribe(inst.ctx, inst.onSnapshot)
}

func (inst *instance[R]) stop() {
	inst.mu.Lock()
	inst.stopped = true
	inst.mu.Unlock()
	inst.cancel()
}

// onSnapshot reacts only when the entry for this key changed identity.
func (inst *instance[R]) onSnapshot(snap store.Snapshot) {
	e := snap.Get(inst.key)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.stopped || (inst.seen && e == inst.last) {
		return
	}
	inst.seen, inst.last = true, e

	q := inst.p.q
	// A nil payload never counts as fresh; it is served only as our own result.
	fresh := e.Fresh(q.store.Now(), q.ttl) && e.Data != nil
	// A result that landed after our own refresh started is served even when
	// the TTL is too short for it to count as fresh.
	ours := e != nil && inst.refreshed && !e.Timestamp.Before(inst.refreshedAt)

	if fresh || ours {
		if !ours {
			q.metrics().RecordLookup(inst.ctx, inst.meta(""), true)
		}
		inst.publishLocked(inst.stateFor(e))
		return
	}

	q.metrics().RecordLookup(inst.ctx, inst.meta(""), false)
	inst.publishLocked(State[R]{Loading: true, Key: inst.key})
	inst.refreshLocked()
}

func (inst *instance[R]) refetch() {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.stopped {
		return
	}
	inst.publishLocked(State[R]{Loading: true, Key: inst.key})
	inst.refreshLocked()
}

func (inst *instance[R]) stateFor(e *store.Entry) State[R] {
	if e.Data == nil {
		return State[R]{Key: inst.key}
	}
	data, ok := e.Data.(R)
	if !ok {
		return State[R]{Key: inst.key, Err: fmt.Errorf("%w: %T", ErrTypeMismatch, e.Data)}
	}
	return State[R]{Data: data, Key: inst.key}
}

func (inst *instance[R]) publishLocked(st State[R]) {
	if inst.stopped {
		return
	}
	inst.loading = st.Loading
	inst.p.out.Publish(st)
}

func (inst *instance[R]) refreshLocked() {
	q := inst.p.q
	if q.store.Closed() {
		inst.publishLocked(State[R]{Err: store.ErrClosed, Key: inst.key})
		return
	}
	inst.refreshed = true
	inst.refreshedAt = q.store.Now()
	inst.seq++
	seq := inst.seq
	q.store.RegisterEffect(inst.ctx, func(ctx context.Context, dispatch func(store.Action)) error {
		return inst.refresh(ctx, dispatch, seq)
	})
}

// refresh is the store effect that fetches and caches one result. seq
// identifies the refresh among those the instance started.
func (inst *instance[R]) refresh(ctx context.Context, dispatch func(store.Action), seq uint64) error {
	q := inst.p.q
	fetch := q.mw.Wrap(inst.meta(store.EffectID(ctx)), func(ctx context.Context, params []any) (any, error) {
		return q.fetch(ctx, params)
	})

	var (
		v   any
		err error
	)
	run := func(fctx context.Context) (any, error) {
		return fetch(fctx, inst.params)
	}
	if q.opts.dedup {
		v, err = q.store.Flight(ctx, inst.key, run)
	} else {
		v, err = q.store.Fenced(ctx, inst.key, run)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.stopped || ctx.Err() != nil {
		return err
	}
	if errors.Is(err, store.ErrSuperseded) {
		// The key was invalidated mid-fetch. Start over unless a newer
		// refresh already did.
		if seq == inst.seq {
			inst.refreshLocked()
		}
		return nil
	}
	if err != nil {
		// A failure never touches the cache; it only replaces a Loading state.
		if !q.opts.silent && inst.loading {
			inst.publishLocked(State[R]{Err: err, Key: inst.key})
		}
		return err
	}
	dispatch(store.Update{Key: inst.parts, Payload: v, Timestamp: q.store.Now()})
	return nil
}
