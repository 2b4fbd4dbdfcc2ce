package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/state"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// backends runs fn against every Store implementation that needs no server.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		fn(t, newTestSQLiteStore(t))
	})
	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		fn(t, NewMemory())
	})
}

func TestStore_CreateAndFindOne(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.Create(ctx, model.KindEvent, map[string]any{
			"name":       "Blues Jam",
			"start_date": "2026-10-20",
			"event_type": "jam_session",
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		found, err := s.FindOne(ctx, model.KindEvent, map[string]any{"name": "Blues Jam", "start_date": "2026-10-20"})
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, id, found.ID)
		assert.Equal(t, model.KindEvent, found.Type)
		assert.Equal(t, "jam_session", found.String("event_type"))

		missing, err := s.FindOne(ctx, model.KindEvent, map[string]any{"name": "Blues Jam", "start_date": "2026-10-21"})
		require.NoError(t, err)
		assert.Nil(t, missing)

		wrongKind, err := s.FindOne(ctx, model.KindVenue, map[string]any{"name": "Blues Jam"})
		require.NoError(t, err)
		assert.Nil(t, wrongKind)
	})
}

func TestStore_EventIdentityUnique(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fields := map[string]any{"name": "Open Mic", "start_date": "2026-11-01"}

		_, err := s.Create(ctx, model.KindEvent, fields)
		require.NoError(t, err)
		_, err = s.Create(ctx, model.KindEvent, fields)
		require.Error(t, err)

		// Venues carry no identity constraint.
		_, err = s.Create(ctx, model.KindVenue, map[string]any{"name": "Knuckleheads"})
		require.NoError(t, err)
		_, err = s.Create(ctx, model.KindVenue, map[string]any{"name": "Knuckleheads"})
		require.NoError(t, err)
	})
}

func TestStore_UpdateMerges(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Create(ctx, model.KindEvent, map[string]any{"name": "Fest", "start_date": "2026-10-30"})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, id, map[string]any{"venue_id": "v-1", "venue_name": "Record Bar"}))
		require.NoError(t, s.Update(ctx, id, map[string]any{"performer_ids": []string{"p-1", "p-2"}}))

		rec, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "Fest", rec.String("name"))
		assert.Equal(t, "v-1", rec.String("venue_id"))
		assert.Equal(t, []string{"p-1", "p-2"}, rec.Strings("performer_ids"))

		err = s.Update(ctx, "missing", map[string]any{"x": 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "record not found")
	})
}

func TestStore_LinkAndGetRelated(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		eventID, err := s.Create(ctx, model.KindEvent, map[string]any{"name": "Jazz Night", "start_date": "2026-10-22"})
		require.NoError(t, err)
		p1, err := s.Create(ctx, model.KindPerformer, map[string]any{"name": "Trio A"})
		require.NoError(t, err)
		p2, err := s.Create(ctx, model.KindPerformer, map[string]any{"name": "Trio B"})
		require.NoError(t, err)

		require.NoError(t, s.Link(ctx, model.RelEventPerformers, eventID, p1))
		require.NoError(t, s.Link(ctx, model.RelEventPerformers, eventID, p2))
		require.NoError(t, s.Link(ctx, model.RelEventPerformers, eventID, p1))

		related, err := s.GetRelated(ctx, model.RelEventPerformers, eventID)
		require.NoError(t, err)
		require.Len(t, related, 2)
		names := []string{related[0].String("name"), related[1].String("name")}
		assert.ElementsMatch(t, []string{"Trio A", "Trio B"}, names)

		none, err := s.GetRelated(ctx, model.RelEventVenues, eventID)
		require.NoError(t, err)
		assert.Empty(t, none)

		require.NoError(t, s.Delete(ctx, p1))
		related, err = s.GetRelated(ctx, model.RelEventPerformers, eventID)
		require.NoError(t, err)
		require.Len(t, related, 1)
		assert.Equal(t, p2, related[0].ID)

		gone, err := s.Get(ctx, p1)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})
}

func TestStore_AddSpendAccumulates(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rec, err := s.AddSpend(ctx, model.BudgetRecord{Date: "2026-10-16", TotalCostUSD: 0.5, APICalls: 1, TokensUsed: 100})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, rec.TotalCostUSD, 1e-9)

		rec, err = s.AddSpend(ctx, model.BudgetRecord{Date: "2026-10-16", TotalCostUSD: 0.25, APICalls: 1, EventsProcessed: 3})
		require.NoError(t, err)
		assert.InDelta(t, 0.75, rec.TotalCostUSD, 1e-9)
		assert.Equal(t, 2, rec.APICalls)
		assert.Equal(t, 100, rec.TokensUsed)
		assert.Equal(t, 3, rec.EventsProcessed)

		_, err = s.AddSpend(ctx, model.BudgetRecord{Date: "2026-10-14", TotalCostUSD: 1})
		require.NoError(t, err)

		days, err := s.ListDays(ctx, "2026-10-01", "2026-10-31")
		require.NoError(t, err)
		require.Len(t, days, 2)
		assert.Equal(t, "2026-10-14", days[0].Date)
		assert.Equal(t, "2026-10-16", days[1].Date)

		require.NoError(t, s.DeleteDay(ctx, "2026-10-14"))
		day, err := s.GetDay(ctx, "2026-10-14")
		require.NoError(t, err)
		assert.Nil(t, day)
	})
}

func TestStore_AddSpendConcurrent(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AddSpend(ctx, model.BudgetRecord{Date: "2026-10-16", TotalCostUSD: 0.04, APICalls: 1})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		day, err := s.GetDay(ctx, "2026-10-16")
		require.NoError(t, err)
		require.NotNil(t, day)
		assert.InDelta(t, 1.0, day.TotalCostUSD, 1e-9)
		assert.Equal(t, 25, day.APICalls)
	})
}

func TestStore_StateKeys(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, state.AgentEnabled.Set(ctx, s, true))
		enabled, found, err := state.AgentEnabled.Get(ctx, s)
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, enabled)

		key := state.BudgetWarningSent("2026-10-16")
		first, err := key.SetIfAbsent(ctx, s, true)
		require.NoError(t, err)
		second, err := key.SetIfAbsent(ctx, s, true)
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)

		require.NoError(t, key.Delete(ctx, s))
		_, found, err = key.Get(ctx, s)
		require.NoError(t, err)
		assert.False(t, found)
	})
}
