package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "anon", "service", WithRateLimit(0))
}

func TestInsert(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/research_sessions", r.URL.Path)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var row map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&row))
		assert.Equal(t, "running", row["status"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"sess-1","status":"running"}]`))
	})

	rows, err := c.Insert(context.Background(), "research_sessions", Row{"status": "running", "batch_size": 5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "sess-1", rows[0]["id"])
}

func TestInsert_RejectedStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"duplicate key"}`))
	})

	_, err := c.Insert(context.Background(), "events_meta", Row{"event_id": "e1"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.sess-1", r.URL.Query().Get("id"))
		switch r.Method {
		case http.MethodPatch:
			var patch map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
			assert.Equal(t, "completed", patch["status"])
		case http.MethodDelete:
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	require.NoError(t, c.Update(ctx, "research_sessions", map[string]string{"id": "sess-1"}, Row{"status": "completed"}))
	require.NoError(t, c.Delete(ctx, "research_sessions", map[string]string{"id": "sess-1"}))
}

func TestSelect(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "id,status", q.Get("select"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "eq.failed", q.Get("status"))
		_, _ = w.Write([]byte(`[{"id":"a","status":"failed"},{"id":"b","status":"failed"}]`))
	})

	rows, err := c.Select(context.Background(), "research_sessions", map[string]string{"status": "failed"}, "id,status", 5)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestPing(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/research_sessions", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestMatchQuery_Sorted(t *testing.T) {
	t.Parallel()

	q := matchQuery(map[string]string{"b": "2", "a": "x y"})
	assert.Equal(t, "a=eq.x+y&b=eq.2", q.Encode())
}
