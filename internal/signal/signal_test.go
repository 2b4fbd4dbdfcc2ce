package signal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

func TestRouter_Dispatch(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	var got []string
	r.Subscribe(model.StageEvents, func(_ context.Context, sig StageCompleted) error {
		got = append(got, "first:"+sig.SessionID)
		return nil
	})
	r.Subscribe(model.StageEvents, func(_ context.Context, sig StageCompleted) error {
		got = append(got, "second:"+sig.SessionID)
		return errors.New("boom")
	})

	err := r.Dispatch(context.Background(), StageCompleted{Stage: model.StageEvents, SessionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal: handle events")
	assert.Equal(t, []string{"first:s1", "second:s1"}, got)

	// terminal stage has no subscribers
	assert.NoError(t, r.Dispatch(context.Background(), StageCompleted{Stage: model.StagePerformers}))
}

func TestInline_DeferredUntilDrain(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	bus := NewInline(r)
	var order []model.Stage
	r.Subscribe(model.StageEvents, func(ctx context.Context, sig StageCompleted) error {
		order = append(order, sig.Stage)
		return bus.Publish(ctx, StageCompleted{Stage: model.StageVenues, SessionID: sig.SessionID})
	})
	r.Subscribe(model.StageVenues, func(_ context.Context, sig StageCompleted) error {
		order = append(order, sig.Stage)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), StageCompleted{Stage: model.StageEvents, SessionID: "s1"}))
	assert.Empty(t, order)
	assert.Equal(t, 1, bus.Pending())

	require.NoError(t, bus.Drain(context.Background()))
	assert.Equal(t, []model.Stage{model.StageEvents, model.StageVenues}, order)
	assert.Equal(t, 0, bus.Pending())
}

func TestInline_DrainCancelled(t *testing.T) {
	t.Parallel()

	bus := NewInline(NewRouter())
	require.NoError(t, bus.Publish(context.Background(), StageCompleted{Stage: model.StageEvents}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, bus.Drain(ctx))
}

func TestQueue_Run(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	var seen []string
	r.Subscribe(model.StageEvents, func(_ context.Context, sig StageCompleted) error {
		mu.Lock()
		seen = append(seen, sig.SessionID)
		mu.Unlock()
		wg.Done()
		return nil
	})

	q := NewQueue(r, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, StageCompleted{Stage: model.StageEvents, SessionID: "a"}))
	require.NoError(t, q.Publish(ctx, StageCompleted{Stage: model.StageEvents, SessionID: "b"}))
	wg.Wait()
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestQueue_HandlerPublishesNextStage(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	q := NewQueue(r, 1)

	var mu sync.Mutex
	var seen []string
	record := func(sig StageCompleted) {
		mu.Lock()
		seen = append(seen, string(sig.Stage)+":"+sig.SessionID)
		mu.Unlock()
	}
	r.Subscribe(model.StageEvents, func(ctx context.Context, sig StageCompleted) error {
		record(sig)
		return q.Publish(ctx, StageCompleted{Stage: model.StageVenues, SessionID: sig.SessionID})
	})
	r.Subscribe(model.StageVenues, func(_ context.Context, sig StageCompleted) error {
		record(sig)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both events signals are queued before the worker starts, so the first
	// handler publishes while the second is still waiting.
	require.NoError(t, q.Publish(ctx, StageCompleted{Stage: model.StageEvents, SessionID: "a"}))
	require.NoError(t, q.Publish(ctx, StageCompleted{Stage: model.StageEvents, SessionID: "b"}))
	assert.Equal(t, 2, q.Pending())

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"events:a", "events:b", "venues:a", "venues:b"}, seen)
	assert.Zero(t, q.Pending())
}

func TestQueue_PublishCancelled(t *testing.T) {
	t.Parallel()

	q := NewQueue(NewRouter(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, q.Publish(ctx, StageCompleted{Stage: model.StageEvents}))
	assert.Zero(t, q.Pending())
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	sig := StageCompleted{Stage: model.StageVenues, SessionID: "s-9"}
	got, ok := decode(encode(sig))
	require.True(t, ok)
	assert.Equal(t, sig, got)

	_, ok = decode(map[string]any{"session_id": "s-9"})
	assert.False(t, ok)
}

func TestRedisBus_Defaults(t *testing.T) {
	t.Parallel()

	b := NewRedisBus(nil, NewRouter(), RedisConfig{})
	assert.Equal(t, "metro:stage_completed", b.cfg.Stream)
	assert.Equal(t, "pipeline", b.cfg.Group)
	assert.Equal(t, 5*time.Second, b.cfg.Block)
}

func TestRedisBus_PublishErrorWrapped(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close() //nolint:errcheck

	b := NewRedisBus(rdb, NewRouter(), RedisConfig{Stream: "test"})
	err := b.Publish(context.Background(), StageCompleted{Stage: model.StageEvents})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal: xadd test")
}
