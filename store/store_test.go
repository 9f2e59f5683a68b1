package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/querycache/keys"
)

const waitFor = 2 * time.Second

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(opts...)
	t.Cleanup(s.Close)
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.Sync(context.Background()))
}

// snapshotLog records every snapshot delivered to a subscriber.
type snapshotLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapshotLog) add(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapshotLog) versions() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, len(l.snaps))
	for i, s := range l.snaps {
		out[i] = s.Version()
	}
	return out
}

func TestStore_InitialSnapshotEmpty(t *testing.T) {
	s := newTestStore(t)

	var got []Snapshot
	s.Subscribe(context.Background(), func(snap Snapshot) { got = append(got, snap) })

	require.Len(t, got, 1, "latest snapshot is delivered synchronously")
	assert.Equal(t, 0, got[0].Len())
	assert.Equal(t, uint64(0), got[0].Version())
}

func TestStore_UpdateAndGet(t *testing.T) {
	now := t0
	s := newTestStore(t, WithClock(func() time.Time { return now }))

	require.NoError(t, s.UpdateValues("payload", "todos", 1))
	flush(t, s)

	e := s.Snapshot().Get("str:todos::num:1")
	require.NotNil(t, e)
	assert.Equal(t, "payload", e.Data)
	assert.Equal(t, now, e.Timestamp)
}

func TestStore_DispatchStampsUpdate(t *testing.T) {
	s := newTestStore(t, WithClock(func() time.Time { return t0 }))

	s.Dispatch(Update{Key: []string{"k"}, Payload: 1})
	flush(t, s)

	assert.Equal(t, t0, s.Snapshot().Get("k").Timestamp)
}

func TestStore_InvalidateCanonicalizes(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpdateValues(1, "todos", map[string]any{"skip": 0}))
	require.NoError(t, s.UpdateValues(2, "todos", "done"))
	require.NoError(t, s.UpdateValues(3, "users"))
	require.NoError(t, s.Invalidate("todos"))
	flush(t, s)

	assert.Equal(t, []string{"str:users"}, s.Snapshot().Keys())
}

func TestStore_InvalidateSerializationError(t *testing.T) {
	s := newTestStore(t)
	err := s.Invalidate(func() {})
	assert.ErrorIs(t, err, keys.ErrSerialization)
}

func TestStore_SnapshotsInOrderNoneSkipped(t *testing.T) {
	s := newTestStore(t)

	var log snapshotLog
	s.Subscribe(context.Background(), log.add)

	const n = 200
	for i := range n {
		s.Update([]string{"k"}, i)
		if i%50 == 0 {
			s.InvalidateParts([]string{"nothing"})
		}
	}
	s.Clear()
	flush(t, s)

	total := uint64(n + n/50 + 1)
	assert.Eventually(t, func() bool {
		v := log.versions()
		return len(v) == int(total)+1
	}, waitFor, time.Millisecond)

	for i, v := range log.versions() {
		assert.Equal(t, uint64(i), v)
	}
}

func TestStore_LateSubscriberGetsLatest(t *testing.T) {
	s := newTestStore(t)
	s.Update([]string{"a"}, 1)
	s.Update([]string{"b"}, 2)
	s.Clear()
	s.Update([]string{"c"}, 3)
	flush(t, s)

	var first Snapshot
	s.Subscribe(context.Background(), func(snap Snapshot) {
		if first.Version() == 0 {
			first = snap
		}
	})
	assert.Equal(t, uint64(4), first.Version())
	assert.Equal(t, []string{"c"}, first.Keys())
}

func TestStore_SubscribeStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	s.Subscribe(ctx, func(Snapshot) { calls.Add(1) })
	cancel()

	s.Update([]string{"k"}, 1)
	flush(t, s)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_EffectDispatches(t *testing.T) {
	s := newTestStore(t)

	s.RegisterEffect(context.Background(), func(_ context.Context, dispatch func(Action)) error {
		dispatch(Update{Key: []string{"fx"}, Payload: "done"})
		return nil
	})

	assert.Eventually(t, func() bool {
		return s.Snapshot().Get("fx") != nil
	}, waitFor, time.Millisecond)
	assert.Eventually(t, func() bool { return s.ActiveEffects() == 0 }, waitFor, time.Millisecond)
}

func TestStore_EffectDroppedAfterCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	finished := make(chan struct{})

	s.RegisterEffect(ctx, func(ctx context.Context, dispatch func(Action)) error {
		defer close(finished)
		<-release
		dispatch(Update{Key: []string{"late"}, Payload: 1})
		return nil
	})
	assert.Equal(t, 1, s.ActiveEffects())

	cancel()
	close(release)
	<-finished
	flush(t, s)

	assert.Nil(t, s.Snapshot().Get("late"))
}

func TestStore_EffectErrorIgnored(t *testing.T) {
	s := newTestStore(t)
	s.RegisterEffect(context.Background(), func(context.Context, func(Action)) error {
		return errors.New("boom")
	})
	assert.Eventually(t, func() bool { return s.ActiveEffects() == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestStore_EffectID(t *testing.T) {
	s := newTestStore(t)
	ids := make(chan string, 1)
	s.RegisterEffect(context.Background(), func(ctx context.Context, _ func(Action)) error {
		ids <- EffectID(ctx)
		return nil
	})
	assert.Len(t, <-ids, 26)
}

func TestStore_FlightDeduplicates(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 5)
	started := make(chan struct{}, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			v, err := s.Flight(context.Background(), "k", fn)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	for range results {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "v", v)
	}
}

func TestStore_FlightWaiterCancelDoesNotAbortCall(t *testing.T) {
	s := newTestStore(t)
	release := make(chan struct{})
	finished := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Flight(ctx, "k", func(fctx context.Context) (any, error) {
			<-release
			finished <- fctx.Err()
			return nil, nil
		})
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	assert.NoError(t, <-finished, "shared call must keep the store context")
}

func TestStore_InvalidateSupersedesFlight(t *testing.T) {
	s := newTestStore(t)
	key, err := keys.StoreKey("todos", 1)
	require.NoError(t, err)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		_, err := s.Flight(context.Background(), key, func(context.Context) (any, error) {
			calls.Add(1)
			close(started)
			<-release
			return "before", nil
		})
		first <- err
	}()
	<-started

	require.NoError(t, s.Invalidate("todos"))
	flush(t, s)

	v, err := s.Flight(context.Background(), key, func(context.Context) (any, error) {
		calls.Add(1)
		return "after", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "after", v, "a call after the invalidation does not join the old one")
	assert.Equal(t, int32(2), calls.Load())

	close(release)
	assert.ErrorIs(t, <-first, ErrSuperseded)
}

func TestStore_FencedSupersede(t *testing.T) {
	tests := []struct {
		name      string
		act       func(t *testing.T, s *Store)
		wantStale bool
	}{
		{name: "matching invalidate", act: func(t *testing.T, s *Store) { require.NoError(t, s.Invalidate(1)) }, wantStale: true},
		{name: "clear", act: func(t *testing.T, s *Store) { s.Clear() }, wantStale: true},
		{name: "other key", act: func(t *testing.T, s *Store) { require.NoError(t, s.Invalidate("users")) }},
		{name: "update", act: func(t *testing.T, s *Store) { require.NoError(t, s.UpdateValues("x", "todos", 1)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			key, err := keys.StoreKey("todos", 1)
			require.NoError(t, err)

			started := make(chan struct{})
			release := make(chan struct{})
			type result struct {
				v   any
				err error
			}
			done := make(chan result, 1)
			go func() {
				v, err := s.Fenced(context.Background(), key, func(context.Context) (any, error) {
					close(started)
					<-release
					return "v", nil
				})
				done <- result{v, err}
			}()
			<-started

			tt.act(t, s)
			flush(t, s)
			close(release)

			res := <-done
			if tt.wantStale {
				assert.ErrorIs(t, res.err, ErrSuperseded)
				assert.Nil(t, res.v)
				return
			}
			require.NoError(t, res.err)
			assert.Equal(t, "v", res.v)
		})
	}
}

func TestStore_SweepExpiresOldEntries(t *testing.T) {
	var mu sync.Mutex
	now := t0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := newTestStore(t, WithClock(clock), WithSweep(time.Hour, 5*time.Minute))

	s.Update([]string{"old"}, 1)
	mu.Lock()
	now = now.Add(4 * time.Minute)
	mu.Unlock()
	s.Update([]string{"new"}, 2)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	s.Sweep()
	flush(t, s)

	assert.Equal(t, []string{"new"}, s.Snapshot().Keys())
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s := New()
	s.Update([]string{"k"}, 1)
	s.Close()
	s.Close()

	assert.True(t, s.Closed())
	s.Update([]string{"after"}, 1)
	assert.Nil(t, s.Snapshot().Get("after"))
	assert.ErrorIs(t, s.Sync(context.Background()), ErrClosed)

	_, err := s.Flight(context.Background(), "k", func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_CloseEndsSubscriptionsAndEffects(t *testing.T) {
	s := New()
	effectCtx := make(chan context.Context, 1)
	s.RegisterEffect(context.Background(), func(ctx context.Context, _ func(Action)) error {
		effectCtx <- ctx
		<-ctx.Done()
		return ctx.Err()
	})
	ctx := <-effectCtx

	s.Close()
	select {
	case <-ctx.Done():
	case <-time.After(waitFor):
		t.Fatal("effect context not cancelled by Close")
	}
	assert.Eventually(t, func() bool { return s.ActiveEffects() == 0 }, waitFor, time.Millisecond)
}
