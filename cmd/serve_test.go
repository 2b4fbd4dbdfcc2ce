package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcmetrolive/metro-agent/internal/analytics"
	"github.com/kcmetrolive/metro-agent/internal/budget"
	"github.com/kcmetrolive/metro-agent/internal/config"
	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/research"
	"github.com/kcmetrolive/metro-agent/internal/schedule"
	"github.com/kcmetrolive/metro-agent/internal/store"
)

// stubResearch answers every research call with a fixed body.
type stubResearch struct {
	body  string
	cost  float64
	err   error
	calls atomic.Int32
}

func (s *stubResearch) Research(_ context.Context, _ string, _ prompt.Operation, _ time.Duration) (*research.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(s.body), &data); err != nil {
		return nil, err
	}
	return &research.Result{
		Data:  data,
		Usage: research.Usage{InputTokens: 100, OutputTokens: 50},
		Model: "stub",
		Cost:  s.cost,
	}, nil
}

func (s *stubResearch) GenerateImage(_ context.Context, _, alt, _ string) (*research.ImageRef, error) {
	return &research.ImageRef{ID: "img", URL: "https://cdn.example.com/img.png", AltText: alt, Cost: 0.04}, nil
}

func (s *stubResearch) TestCredential(context.Context, string) error { return s.err }

func upcoming(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format("2006-01-02")
}

func eventsBody() string {
	return fmt.Sprintf(`{"events": [{
		"event": {"event_name": "Friday Blues", "start_date": %q},
		"venue": {"name": "Knuckleheads", "city": "Kansas City"},
		"performers": [{"name": "Levee Town"}],
		"notes": [{"note_text": "Cash bar", "related_to": "venue"}]
	}]}`, upcoming(7))
}

type serveFixture struct {
	store    *store.MemoryStore
	research *stubResearch
	env      *pipelineEnv
	handler  http.Handler
}

// newServeFixture swaps the package config for a memory-backed one. Tests
// using it must not run in parallel.
func newServeFixture(t *testing.T) *serveFixture {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Budget:   budget.Config{DailyLimit: 5, Timezone: "UTC"},
		Schedule: schedule.Config{Limit: 2, Timezone: "UTC"},
	}
	t.Cleanup(func() { cfg = prev })

	mem := store.NewMemory()
	rc := &stubResearch{body: eventsBody(), cost: 0.3}
	env, err := newPipelineEnv(mem, mem, rc, analytics.NewMemorySink(), busInline, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &serveFixture{store: mem, research: rc, env: env, handler: buildRouter(ctx, env, []string{"*"})}
}

func (f *serveFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) model.StageResult {
	t.Helper()
	var res model.StageResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func TestRouter_Health(t *testing.T) {
	f := newServeFixture(t)

	rr := f.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouter_CORSPreflight(t *testing.T) {
	f := newServeFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "https://kcmetrolive.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RunDeliversAllStages(t *testing.T) {
	f := newServeFixture(t)

	rr := f.do(t, http.MethodPost, "/api/runs", `{"limit": 1}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeResult(t, rr)
	assert.True(t, res.Success)
	assert.Equal(t, model.StageEvents, res.Stage)
	assert.Equal(t, 1, res.Processed)
	assert.NotEmpty(t, res.SessionID)

	require.Eventually(t, func() bool {
		status, err := f.env.Orchestrator.Status(context.Background())
		return err == nil && status.State == model.RunStateDone
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.store.Count(model.KindEvent))
	assert.Equal(t, 1, f.store.Count(model.KindVenue))
	assert.Equal(t, 1, f.store.Count(model.KindPerformer))
	assert.Equal(t, 1, f.store.Count(model.KindNote))

	rr = f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), string(model.RunStateDone))
}

func TestRouter_RunDefaultsToScheduleLimit(t *testing.T) {
	f := newServeFixture(t)

	rr := f.do(t, http.MethodPost, "/api/runs", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 1, f.research.calls.Load())

	rr = f.do(t, http.MethodGet, "/api/runs/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats []model.RunStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.NotEmpty(t, stats)
	assert.Equal(t, "24h", stats[0].Window)
	assert.Equal(t, 1, stats[0].Runs)
}

func TestRouter_RunErrorStatus(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		setup func(t *testing.T, f *serveFixture)
		want  int
		kind  string
	}{
		{
			name: "limit too large",
			body: `{"limit": 11}`,
			want: http.StatusBadRequest,
			kind: "validation",
		},
		{
			name: "negative limit",
			body: `{"limit": -1}`,
			want: http.StatusBadRequest,
			kind: "validation",
		},
		{
			name: "budget exhausted",
			body: `{"limit": 1}`,
			setup: func(t *testing.T, f *serveFixture) {
				require.NoError(t, f.env.Ledger.SetDailyLimit(context.Background(), 0.01))
			},
			want: http.StatusPaymentRequired,
			kind: "budget_exceeded",
		},
		{
			name: "malformed body",
			body: `{"limit":`,
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServeFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}

			rr := f.do(t, http.MethodPost, "/api/runs", tt.body)

			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			if tt.kind != "" {
				res := decodeResult(t, rr)
				assert.False(t, res.Success)
				assert.Equal(t, tt.kind, res.ErrorKind)
			}
			assert.Zero(t, f.research.calls.Load())
		})
	}
}

func TestRouter_Stages(t *testing.T) {
	f := newServeFixture(t)

	rr := f.do(t, http.MethodPost, "/api/stages/events", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Without a prior events run there is nothing to consume.
	rr = f.do(t, http.MethodPost, "/api/stages/venues", `{"session_id": "nope"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, decodeResult(t, rr).Success)
}

func TestRouter_Budget(t *testing.T) {
	f := newServeFixture(t)
	_, err := f.env.Ledger.RecordSpending(context.Background(), 1.25, "api_call_research", model.SpendDetails{APICalls: 1})
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/api/budget", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status model.BudgetStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.InDelta(t, 5.0, status.DailyLimit, 1e-9)
	assert.InDelta(t, 1.25, status.SpentToday, 1e-9)
	assert.InDelta(t, 3.75, status.Remaining, 1e-9)
}

func TestRouter_BudgetReport(t *testing.T) {
	tests := []struct {
		query       string
		want        int
		contentType string
		contains    string
	}{
		{"", http.StatusOK, "application/json", `"period": "month"`},
		{"?period=week&format=csv", http.StatusOK, "text/csv", "date"},
		{"?period=quarter&format=yaml", http.StatusOK, "application/yaml", "period: quarter"},
		{"?period=decade", http.StatusBadRequest, "application/json", "period"},
		{"?format=xml", http.StatusBadRequest, "application/json", "format"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f := newServeFixture(t)

			rr := f.do(t, http.MethodGet, "/api/budget/report"+tt.query, "")

			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), tt.contentType))
			assert.Contains(t, rr.Body.String(), tt.contains)
		})
	}
}

func TestRouter_Schedule(t *testing.T) {
	f := newServeFixture(t)

	rr := f.do(t, http.MethodPost, "/api/schedule/enable", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var status schedule.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.Enabled)
	assert.NotNil(t, status.NextRun)

	rr = f.do(t, http.MethodPost, "/api/schedule/disable", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.Enabled)

	rr = f.do(t, http.MethodPost, "/api/schedule/reboot", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_Metrics(t *testing.T) {
	f := newServeFixture(t)
	f.do(t, http.MethodPost, "/api/runs", `{"limit": 1}`)

	rr := f.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "metro_runs_total")
}

func TestScheduledRun(t *testing.T) {
	f := newServeFixture(t)
	run := scheduledRun(f.env)

	require.NoError(t, run(context.Background(), 1))

	status, err := f.env.Orchestrator.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStateDone, status.State)

	entries, err := f.env.Orchestrator.RunLog(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.TriggerScheduled, entries[0].Trigger)

	assert.Error(t, run(context.Background(), 0))
}
