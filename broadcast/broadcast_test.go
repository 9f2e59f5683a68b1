package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered values for assertions.
type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder[T]) values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.vals))
	copy(out, r.vals)
	return out
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vals)
}

const waitFor = time.Second
const tick = 5 * time.Millisecond

func TestValue_ReplaysLatestSynchronously(t *testing.T) {
	v := NewValueOf(1)
	v.Publish(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder[int]
	v.Subscribe(ctx, rec.add)

	// Delivered before Subscribe returned.
	assert.Equal(t, []int{2}, rec.values())
}

func TestValue_EmptyDeliversNothingUntilPublish(t *testing.T) {
	v := NewValue[string]()

	_, ok := v.Latest()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder[string]
	v.Subscribe(ctx, rec.add)
	assert.Equal(t, 0, rec.len())

	v.Publish("first")
	assert.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, tick)

	latest, ok := v.Latest()
	assert.True(t, ok)
	assert.Equal(t, "first", latest)
}

func TestValue_DeliversEveryValueInOrder(t *testing.T) {
	v := NewValueOf(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder[int]
	v.Subscribe(ctx, rec.add)

	const n = 500
	for i := 1; i <= n; i++ {
		v.Publish(i)
	}

	require.Eventually(t, func() bool { return rec.len() == n+1 }, waitFor, tick)
	for i, got := range rec.values() {
		assert.Equal(t, i, got)
	}
}

func TestValue_StopsOnContextCancel(t *testing.T) {
	v := NewValueOf(0)

	ctx, cancel := context.WithCancel(context.Background())
	var rec recorder[int]
	v.Subscribe(ctx, rec.add)
	cancel()

	v.Publish(1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{0}, rec.values())
}

func TestValue_CancelledContextNeverDelivers(t *testing.T) {
	v := NewValueOf(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recorder[int]
	v.Subscribe(ctx, rec.add)
	assert.Equal(t, 0, rec.len())
}

func TestValue_CloseDrainsThenStops(t *testing.T) {
	v := NewValueOf(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder[int]
	v.Subscribe(ctx, rec.add)

	v.Publish(1)
	v.Close()
	v.Publish(2)
	v.Close()

	assert.True(t, v.Closed())
	assert.Eventually(t, func() bool { return rec.len() == 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{0, 1}, rec.values())
}

func TestShared_StartsOncePerGeneration(t *testing.T) {
	var starts atomic.Int32
	s := NewShared(func(ctx context.Context, out *Value[int]) {
		starts.Add(1)
		out.Publish(int(starts.Load()))
	})

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())

	var first, second recorder[int]
	s.Subscribe(ctx1, first.add)
	s.Subscribe(ctx2, second.add)

	assert.Equal(t, int32(1), starts.Load())
	assert.Equal(t, 2, s.Refs())
	assert.Equal(t, []int{1}, first.values())
	assert.Equal(t, []int{1}, second.values())

	cancel1()
	assert.Eventually(t, func() bool { return s.Refs() == 1 }, waitFor, tick)

	cancel2()
	assert.Eventually(t, func() bool { return s.Refs() == 0 }, waitFor, tick)

	_, ok := s.Latest()
	assert.False(t, ok, "latest value is discarded with the generation")
}

func TestShared_RestartsAfterLastSubscriberLeaves(t *testing.T) {
	var (
		starts  atomic.Int32
		stopped atomic.Int32
	)
	s := NewShared(func(ctx context.Context, out *Value[int]) {
		n := starts.Add(1)
		out.Publish(int(n))
		context.AfterFunc(ctx, func() { stopped.Add(1) })
	})

	ctx, cancel := context.WithCancel(context.Background())
	var rec recorder[int]
	s.Subscribe(ctx, rec.add)
	cancel()
	require.Eventually(t, func() bool { return stopped.Load() == 1 }, waitFor, tick)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	var rec2 recorder[int]
	s.Subscribe(ctx2, rec2.add)

	assert.Equal(t, int32(2), starts.Load())
	assert.Equal(t, []int{2}, rec2.values())
}

func TestShared_LateSubscriberGetsLatest(t *testing.T) {
	var upstream *Value[string]
	s := NewShared(func(ctx context.Context, out *Value[string]) {
		upstream = out
		out.Publish("loading")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var early recorder[string]
	s.Subscribe(ctx, early.add)
	upstream.Publish("ready")
	require.Eventually(t, func() bool { return early.len() == 2 }, waitFor, tick)

	var late recorder[string]
	s.Subscribe(ctx, late.add)
	assert.Equal(t, []string{"ready"}, late.values())

	latest, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, "ready", latest)
}
