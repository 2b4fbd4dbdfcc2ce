package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/state"
)

// Records is the generic typed-record store the orchestrator writes through.
type Records interface {
	Create(ctx context.Context, kind model.Kind, fields map[string]any) (string, error)
	// Get returns nil, nil when no record has the id.
	Get(ctx context.Context, id string) (*model.Record, error)
	// FindOne returns the oldest record of kind whose fields equal every
	// filter value, or nil, nil.
	FindOne(ctx context.Context, kind model.Kind, filters map[string]any) (*model.Record, error)
	// Update merges fields into the record.
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	Link(ctx context.Context, relation, parentID, childID string) error
	GetRelated(ctx context.Context, relation, parentID string) ([]model.Record, error)
}

// Ledger persists per-day budget aggregates.
type Ledger interface {
	// AddSpend atomically adds delta to the record for delta.Date and
	// returns the resulting totals.
	AddSpend(ctx context.Context, delta model.BudgetRecord) (*model.BudgetRecord, error)
	// GetDay returns nil, nil when nothing was spent that day.
	GetDay(ctx context.Context, date string) (*model.BudgetRecord, error)
	// ListDays returns records with from <= date <= to, oldest first.
	ListDays(ctx context.Context, from, to string) ([]model.BudgetRecord, error)
	DeleteDay(ctx context.Context, date string) error
}

// Store bundles every persistence concern behind one backend.
type Store interface {
	Records
	Ledger
	state.State

	Migrate(ctx context.Context) error
	Close() error
}

// sortedKeys gives filters a stable bind order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// filterText renders a filter value the way the JSON text extractors
// return it.
func filterText(v any, trueText, falseText string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return trueText
		}
		return falseText
	default:
		return fmt.Sprint(t)
	}
}
