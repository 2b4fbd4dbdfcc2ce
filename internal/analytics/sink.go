// Package analytics records research sessions, operations and entity
// metadata to a side store. Every write is best-effort.
package analytics

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/kcmetrolive/metro-agent/pkg/supabase"
)

// Table names.
const (
	TableSessions       = "research_sessions"
	TableOperations     = "research_operations"
	TableEventsMeta     = "events_meta"
	TableVenuesMeta     = "venues_meta"
	TablePerformersMeta = "performers_meta"
	TableNotesMeta      = "notes_meta"
)

// Row is one analytics row.
type Row = map[string]any

// Sink is the table-oriented analytics collaborator.
type Sink interface {
	// Insert stores row and returns its id.
	Insert(ctx context.Context, table string, row Row) (string, error)
	// Update merges patch into the row with id.
	Update(ctx context.Context, table, id string, patch Row) error
	// Select returns rows whose columns equal every match value, oldest first.
	Select(ctx context.Context, table string, match map[string]string, limit int) ([]Row, error)
	Delete(ctx context.Context, table string, match map[string]string) error
	Ping(ctx context.Context) error
}

// SupabaseSink writes through the PostgREST API.
type SupabaseSink struct {
	client supabase.Client
}

// NewSupabaseSink wraps a PostgREST client.
func NewSupabaseSink(client supabase.Client) *SupabaseSink {
	return &SupabaseSink{client: client}
}

func (s *SupabaseSink) Insert(ctx context.Context, table string, row Row) (string, error) {
	rows, err := s.client.Insert(ctx, table, row)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0]["id"] == nil {
		return "", eris.Errorf("analytics: %s insert returned no id", table)
	}
	return fmt.Sprint(rows[0]["id"]), nil
}

func (s *SupabaseSink) Update(ctx context.Context, table, id string, patch Row) error {
	return s.client.Update(ctx, table, map[string]string{"id": id}, patch)
}

func (s *SupabaseSink) Select(ctx context.Context, table string, match map[string]string, limit int) ([]Row, error) {
	return s.client.Select(ctx, table, match, "*", limit)
}

func (s *SupabaseSink) Delete(ctx context.Context, table string, match map[string]string) error {
	return s.client.Delete(ctx, table, match)
}

func (s *SupabaseSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// MemorySink keeps rows in process. Used in tests and when no analytics
// backend is configured but sessions should still be inspectable.
type MemorySink struct {
	mu     sync.Mutex
	tables map[string][]Row
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{tables: make(map[string][]Row)}
}

func (m *MemorySink) Insert(_ context.Context, table string, row Row) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := maps.Clone(row)
	if r == nil {
		r = Row{}
	}
	id, ok := r["id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		r["id"] = id
	}
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	m.tables[table] = append(m.tables[table], r)
	return id, nil
}

func (m *MemorySink) Update(_ context.Context, table, id string, patch Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.tables[table] {
		if r["id"] == id {
			maps.Copy(r, patch)
			return nil
		}
	}
	return eris.Errorf("analytics: %s row %s not found", table, id)
}

func (m *MemorySink) Select(_ context.Context, table string, match map[string]string, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for _, r := range m.tables[table] {
		if !matches(r, match) {
			continue
		}
		out = append(out, maps.Clone(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemorySink) Delete(_ context.Context, table string, match map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = slices.DeleteFunc(m.tables[table], func(r Row) bool { return matches(r, match) })
	return nil
}

func (m *MemorySink) Ping(context.Context) error { return nil }

// Rows returns a copy of every row in table.
func (m *MemorySink) Rows(table string) []Row {
	rows, _ := m.Select(context.Background(), table, nil, 0)
	return rows
}

func matches(r Row, match map[string]string) bool {
	for k, v := range match {
		if fmt.Sprint(r[k]) != v {
			return false
		}
	}
	return true
}

// NopSink discards everything. Inserts still return fresh ids so sessions
// can be correlated in logs.
type NopSink struct{}

func (NopSink) Insert(context.Context, string, Row) (string, error) { return uuid.NewString(), nil }
func (NopSink) Update(context.Context, string, string, Row) error   { return nil }
func (NopSink) Select(context.Context, string, map[string]string, int) ([]Row, error) {
	return nil, nil
}
func (NopSink) Delete(context.Context, string, map[string]string) error { return nil }
func (NopSink) Ping(context.Context) error                             { return nil }
