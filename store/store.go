package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/querycache/broadcast"
	"github.com/jonwraymond/querycache/keys"
	"github.com/jonwraymond/querycache/observe"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("store: closed")

// ErrSuperseded is returned by Flight and Fenced when the key was
// invalidated or cleared while fn ran. The result predates the invalidation
// and must not be cached.
var ErrSuperseded = errors.New("store: fetch superseded by invalidation")

// Sweep defaults.
const (
	DefaultSweepInterval = time.Minute
	DefaultSweepMaxAge   = 5 * time.Minute
)

// Effect is a background computation that feeds actions into the store.
// dispatch is safe for concurrent use; once ctx is done it drops actions.
// The returned error is logged and otherwise ignored: effects are never
// retried or restarted.
type Effect func(ctx context.Context, dispatch func(Action)) error

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for Update timestamps and sweeps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTelemetry sets logger and metrics from a Telemetry bundle.
func WithTelemetry(t observe.Telemetry) Option {
	return func(s *Store) {
		t = t.Complete()
		s.logger = t.Logger
		s.metrics = t.Metrics
	}
}

// WithSweep enables periodic removal of entries older than maxAge. Zero or
// negative values select DefaultSweepInterval and DefaultSweepMaxAge.
// Intervals are rounded down to whole seconds, minimum one second.
func WithSweep(interval, maxAge time.Duration) Option {
	return func(s *Store) {
		if interval <= 0 {
			interval = DefaultSweepInterval
		}
		if maxAge <= 0 {
			maxAge = DefaultSweepMaxAge
		}
		s.sweepInterval = interval
		s.sweepMaxAge = maxAge
	}
}

// Store owns one cache map. All mutations go through a single FIFO mailbox
// drained by one reducer goroutine; every reduced state is published as a
// Snapshot.
//
// Contract:
//   - Concurrency: safe for concurrent use. Dispatch never blocks.
//   - Ordering: snapshots are observed in the order the reducer produced them.
//   - Lifecycle: Close stops the reducer; later dispatches are ignored.
type Store struct {
	now           func() time.Time
	logger        observe.Logger
	metrics       observe.Metrics
	sweepInterval time.Duration
	sweepMaxAge   time.Duration

	mu      sync.Mutex
	mailbox []Action
	closed  bool
	wake    chan struct{}

	snapshots *broadcast.Value[Snapshot]
	flights   singleflight.Group
	fmu       sync.Mutex
	fences    map[*fence]struct{}
	effects   atomic.Int64
	sweeper   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Store and starts its reducer. The initial snapshot is empty.
func New(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		now:       time.Now,
		logger:    observe.NopLogger(),
		metrics:   observe.NopTelemetry().Metrics,
		wake:      make(chan struct{}, 1),
		snapshots: broadcast.NewValueOf(Snapshot{entries: Map{}}),
		fences:    make(map[*fence]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()

	if s.sweepInterval > 0 {
		s.sweeper = cron.New()
		s.sweeper.Schedule(cron.Every(s.sweepInterval), cron.FuncJob(s.Sweep))
		s.sweeper.Start()
	}
	return s
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() Snapshot {
	snap, _ := s.snapshots.Latest()
	return snap
}

// Subscribe calls fn with the current snapshot before returning, then with
// every later snapshot in reducer order until ctx is done or the store is
// closed. Later snapshots are delivered on a goroutine owned by this
// subscription.
func (s *Store) Subscribe(ctx context.Context, fn func(Snapshot)) {
	s.snapshots.Subscribe(ctx, fn)
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Dispatch queues an action. An Update without a timestamp is stamped with
// the current time. Dispatch after Close is a no-op.
func (s *Store) Dispatch(a Action) {
	if a == nil {
		return
	}
	if u, ok := a.(Update); ok && u.Timestamp.IsZero() {
		u.Timestamp = s.now()
		a = u
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mailbox = append(s.mailbox, a)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Update stores payload under canonical key parts, stamped now.
func (s *Store) Update(key []string, payload any) {
	s.Dispatch(Update{Key: key, Payload: payload, Timestamp: s.now()})
}

// UpdateValues canonicalizes values and stores payload under them.
func (s *Store) UpdateValues(payload any, values ...any) error {
	parts, err := keys.Canonicalize(values...)
	if err != nil {
		return err
	}
	s.Update(parts, payload)
	return nil
}

// Invalidate canonicalizes values and removes every entry whose key contains
// all of the resulting parts.
func (s *Store) Invalidate(values ...any) error {
	parts, err := keys.Canonicalize(values...)
	if err != nil {
		return err
	}
	s.InvalidateParts(parts)
	return nil
}

// InvalidateParts removes every entry whose key contains all of parts.
func (s *Store) InvalidateParts(parts []string) {
	s.Dispatch(Invalidate{Parts: parts})
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.Dispatch(Clear{})
}

// Sweep removes entries older than the configured max age, or
// DefaultSweepMaxAge when sweeping is not enabled.
func (s *Store) Sweep() {
	maxAge := s.sweepMaxAge
	if maxAge <= 0 {
		maxAge = DefaultSweepMaxAge
	}
	s.logger.Debug(s.ctx, "sweeping expired entries", observe.Field{Key: "max_age", Value: maxAge.String()})
	s.Dispatch(Expire{Before: s.now().Add(-maxAge)})
}

// Sync waits until every action dispatched before the call has been reduced
// and its snapshot published.
func (s *Store) Sync(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mailbox = append(s.mailbox, b)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case <-b.done:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterEffect runs eff on its own goroutine. Actions it dispatches join
// the same mailbox as manual actions. Once ctx is done, or the store is
// closed, its dispatches are dropped.
func (s *Store) RegisterEffect(ctx context.Context, eff Effect) {
	if eff == nil || s.Closed() {
		return
	}

	id := ulid.Make().String()
	ectx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	s.effects.Add(1)
	s.metrics.RecordEffect(ectx, 1)

	dispatch := func(a Action) {
		if ectx.Err() != nil {
			s.logger.Debug(ectx, "effect action dropped",
				observe.Field{Key: "effect_id", Value: id},
				observe.Field{Key: "action", Value: a.Kind()},
			)
			return
		}
		s.Dispatch(a)
	}

	go func() {
		defer func() {
			stop()
			cancel()
			s.effects.Add(-1)
			s.metrics.RecordEffect(context.Background(), -1)
		}()

		if err := eff(WithEffectID(ectx, id), dispatch); err != nil {
			s.logger.Debug(ectx, "effect failed",
				observe.Field{Key: "effect_id", Value: id},
				observe.Field{Key: "error", Value: err},
			)
		}
	}()
}

// ActiveEffects returns the number of running effects.
func (s *Store) ActiveEffects() int {
	return int(s.effects.Load())
}

// Flight runs fn at most once at a time per key. Concurrent callers with the
// same key share the result. fn receives the store's lifetime context, so a
// waiter giving up never aborts the shared call; Flight itself returns
// ctx.Err() when ctx ends first.
//
// An Invalidate or Clear matching key detaches the running call: later
// callers start a new one, and the detached call's waiters get
// ErrSuperseded.
func (s *Store) Flight(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if s.Closed() {
		return nil, ErrClosed
	}

	ch := s.flights.DoChan(key, func() (any, error) {
		return s.fenced(s.ctx, key, fn)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fenced runs fn for key without sharing it. Like Flight it returns
// ErrSuperseded when key was invalidated or cleared while fn ran.
func (s *Store) Fenced(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if s.Closed() {
		return nil, ErrClosed
	}
	return s.fenced(ctx, key, fn)
}

// fence marks one running fetch. stale is guarded by Store.fmu.
type fence struct {
	key   string
	parts []string
	stale bool
}

func (s *Store) fenced(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	f := &fence{key: key, parts: keys.Split(key)}
	s.fmu.Lock()
	s.fences[f] = struct{}{}
	s.fmu.Unlock()

	v, err := fn(ctx)

	s.fmu.Lock()
	delete(s.fences, f)
	stale := f.stale
	s.fmu.Unlock()

	if stale {
		return nil, ErrSuperseded
	}
	return v, err
}

// supersede marks the running fetches a removes. It runs on the reducer
// before the resulting snapshot is published, so a refresh triggered by
// that snapshot never joins a detached call.
func (s *Store) supersede(a Action) {
	var parts []string
	switch a := a.(type) {
	case Invalidate:
		parts = a.Parts
	case Clear:
	default:
		return
	}

	s.fmu.Lock()
	defer s.fmu.Unlock()
	for f := range s.fences {
		if f.stale || !containsAll(f.parts, parts) {
			continue
		}
		f.stale = true
		s.flights.Forget(f.key)
	}
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the sweeper and the reducer and ends every subscription.
// Queued actions that were not yet reduced are discarded. Close is
// idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mailbox = nil
	s.mu.Unlock()

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.cancel()
	<-s.done
	s.snapshots.Close()
	s.logger.Info(context.Background(), "store closed")
}

func (s *Store) run() {
	defer close(s.done)

	state, version := Map{}, uint64(0)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			a, ok := s.next()
			if !ok {
				break
			}
			if b, isBarrier := a.(barrier); isBarrier {
				close(b.done)
				continue
			}

			s.supersede(a)
			next := Reduce(state, a)
			version++
			s.metrics.RecordAction(s.ctx, a.Kind())
			s.metrics.RecordEntries(s.ctx, int64(len(next)-len(state)))
			state = next
			s.snapshots.Publish(Snapshot{entries: state, version: version})
		}
	}
}

func (s *Store) next() (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.mailbox) == 0 {
		return nil, false
	}
	a := s.mailbox[0]
	s.mailbox[0] = nil
	s.mailbox = s.mailbox[1:]
	return a, true
}

type effectIDKey struct{}

// WithEffectID attaches an effect ID to ctx.
func WithEffectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, effectIDKey{}, id)
}

// EffectID returns the ID of the effect running under ctx, if any.
func EffectID(ctx context.Context) string {
	id, _ := ctx.Value(effectIDKey{}).(string)
	return id
}
