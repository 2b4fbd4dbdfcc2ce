package model

import (
	"encoding/json"
	"time"
)

// Record is a persisted typed record as returned by the record store.
type Record struct {
	ID        string         `json:"id"`
	Type      Kind           `json:"type"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// String returns the named field as a string, or "" when absent.
func (r *Record) String(field string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	s, _ := r.Fields[field].(string)
	return s
}

// Strings returns the named list field as a []string.
func (r *Record) Strings(field string) []string {
	if r == nil || r.Fields == nil {
		return nil
	}
	switch v := r.Fields[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Payload is a raw entity payload queued for a later stage, tagged with the
// id of the event that produced it.
type Payload struct {
	EventID string         `json:"event_id"`
	Data    map[string]any `json:"data"`
}

// Scratch carries payloads between pipeline stages. There is exactly one per
// pipeline run.
type Scratch struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	Venues     []Payload `json:"venues"`
	Performers []Payload `json:"performers"`
	Notes      []Payload `json:"notes"`
}

// Empty reports whether no stage has anything left to consume.
func (s *Scratch) Empty() bool {
	return s == nil || (len(s.Venues) == 0 && len(s.Performers) == 0 && len(s.Notes) == 0)
}

// GroupPerformers groups performer payloads by owning event id, preserving
// the order in which events first appear.
func (s *Scratch) GroupPerformers() (order []string, groups map[string][]Payload) {
	groups = make(map[string][]Payload)
	for _, p := range s.Performers {
		if _, seen := groups[p.EventID]; !seen {
			order = append(order, p.EventID)
		}
		groups[p.EventID] = append(groups[p.EventID], p)
	}
	return order, groups
}

// MarshalData re-encodes a payload's data for metadata snapshots.
func (p Payload) MarshalData() json.RawMessage {
	b, err := json.Marshal(p.Data)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
