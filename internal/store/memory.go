package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/state"
)

type relation struct {
	name, parent, child string
}

// MemoryStore is an in-process Store used for dry runs and tests.
type MemoryStore struct {
	*state.Memory

	mu        sync.Mutex
	records   map[string]*model.Record
	order     []string
	relations []relation
	days      map[string]model.BudgetRecord
	now       func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		Memory:  state.NewMemory(),
		records: make(map[string]*model.Record),
		days:    make(map[string]model.BudgetRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) Create(_ context.Context, kind model.Kind, fields map[string]any) (string, error) {
	cp, err := cloneFields(fields)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == model.KindEvent {
		for _, id := range m.order {
			r := m.records[id]
			if r.Type == model.KindEvent && r.Fields["name"] == cp["name"] && r.Fields["start_date"] == cp["start_date"] {
				return "", eris.Errorf("memory: duplicate event %v on %v", cp["name"], cp["start_date"])
			}
		}
	}

	now := m.now()
	id := uuid.New().String()
	m.records[id] = &model.Record{ID: id, Type: kind, Fields: cp, CreatedAt: now, UpdatedAt: now}
	m.order = append(m.order, id)
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) FindOne(_ context.Context, kind model.Kind, filters map[string]any) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		r := m.records[id]
		if r.Type != kind {
			continue
		}
		match := true
		for k, v := range filters {
			if filterText(r.Fields[k], "true", "false") != filterText(v, "true", "false") {
				match = false
				break
			}
		}
		if match {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fields map[string]any) error {
	cp, err := cloneFields(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return eris.Errorf("record not found: %s", id)
	}
	for k, v := range cp {
		r.Fields[k] = v
	}
	r.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return eris.Errorf("record not found: %s", id)
	}
	delete(m.records, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	kept := m.relations[:0]
	for _, rel := range m.relations {
		if rel.parent != id && rel.child != id {
			kept = append(kept, rel)
		}
	}
	m.relations = kept
	return nil
}

func (m *MemoryStore) Link(_ context.Context, name, parentID, childID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rel := range m.relations {
		if rel.name == name && rel.parent == parentID && rel.child == childID {
			return nil
		}
	}
	m.relations = append(m.relations, relation{name: name, parent: parentID, child: childID})
	return nil
}

func (m *MemoryStore) GetRelated(_ context.Context, name, parentID string) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Record
	for _, rel := range m.relations {
		if rel.name != name || rel.parent != parentID {
			continue
		}
		if r, ok := m.records[rel.child]; ok {
			out = append(out, *copyRecord(r))
		}
	}
	return out, nil
}

// Count returns the number of records of kind.
func (m *MemoryStore) Count(kind model.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Type == kind {
			n++
		}
	}
	return n
}

func (m *MemoryStore) AddSpend(_ context.Context, delta model.BudgetRecord) (*model.BudgetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.days[delta.Date]
	cur.Date = delta.Date
	cur.TotalCostUSD += delta.TotalCostUSD
	cur.APICalls += delta.APICalls
	cur.TokensUsed += delta.TokensUsed
	cur.ImagesGenerated += delta.ImagesGenerated
	cur.EventsProcessed += delta.EventsProcessed
	cur.VenuesProcessed += delta.VenuesProcessed
	cur.PerformersProcessed += delta.PerformersProcessed
	cur.UpdatedAt = m.now()
	m.days[delta.Date] = cur
	out := cur
	return &out, nil
}

func (m *MemoryStore) GetDay(_ context.Context, date string) (*model.BudgetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.days[date]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) ListDays(_ context.Context, from, to string) ([]model.BudgetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BudgetRecord
	for date, rec := range m.days {
		if date >= from && date <= to {
			out = append(out, rec)
		}
	}
	sortDays(out)
	return out, nil
}

func (m *MemoryStore) DeleteDay(_ context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.days, date)
	return nil
}

func sortDays(days []model.BudgetRecord) {
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
}

// cloneFields round-trips through JSON so stored fields look exactly like
// what the SQL backends return.
func cloneFields(fields map[string]any) (map[string]any, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, eris.Wrap(err, "memory: marshal fields")
	}
	out := make(map[string]any)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "memory: unmarshal fields")
	}
	return out, nil
}

func copyRecord(r *model.Record) *model.Record {
	cp := *r
	cp.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}
