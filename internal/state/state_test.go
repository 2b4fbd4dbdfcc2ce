package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

func TestKey_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	v, found, err := DailyLimit.Get(ctx, s)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, v)

	require.NoError(t, DailyLimit.Set(ctx, s, 12.5))
	v, found, err = DailyLimit.Get(ctx, s)
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 12.5, v, 1e-9)

	require.NoError(t, DailyLimit.Delete(ctx, s))
	_, found, err = DailyLimit.Get(ctx, s)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKey_GetOr(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	enabled, err := AgentEnabled.GetOr(ctx, s, true)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, AgentEnabled.Set(ctx, s, false))
	enabled, err = AgentEnabled.GetOr(ctx, s, true)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestKey_StructValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	sc := model.Scratch{
		SessionID: "sess-1",
		Venues:    []model.Payload{{EventID: "e1", Data: map[string]any{"name": "Knuckleheads"}}},
	}
	require.NoError(t, Scratch.Set(ctx, s, sc))

	got, found, err := Scratch.Get(ctx, s)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sess-1", got.SessionID)
	require.Len(t, got.Venues, 1)
	assert.Equal(t, "Knuckleheads", got.Venues[0].Data["name"])
}

func TestKey_DecodeError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Save(ctx, DailyLimit.Name, []byte("not-json")))
	_, _, err := DailyLimit.Get(ctx, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state: decode daily_budget_limit")
}

func TestMemory_SetIfAbsentOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	key := BudgetWarningSent("2026-10-16")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := key.SetIfAbsent(ctx, s, true)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDailyKeysAreDistinct(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "budget_warning_sent_2026-10-16", BudgetWarningSent("2026-10-16").Name)
	assert.NotEqual(t, BudgetWarningSent("2026-10-16").Name, BudgetExceededSent("2026-10-16").Name)
}

func TestRedisState_KeyPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "metro:agent_enabled", NewRedis(nil, "metro").key("agent_enabled"))
	assert.Equal(t, "agent_enabled", NewRedis(nil, "").key("agent_enabled"))
}

func TestRedisState_ConnectionErrorWrapped(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedis(rdb, "metro")

	_, _, err := s.Load(context.Background(), "agent_enabled")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state: redis get agent_enabled")
}
