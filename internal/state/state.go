// Package state provides the persisted key-value state shared by the ledger,
// scheduler and orchestrator. Values are JSON encoded; typed access goes
// through Key.
package state

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
)

// State is a persisted key-value store.
type State interface {
	// Load returns the raw value for key. found is false when the key is absent.
	Load(ctx context.Context, key string) (value []byte, found bool, err error)
	Save(ctx context.Context, key string, value []byte) error
	// SaveIfAbsent stores value only when key does not exist yet and reports
	// whether it did. It must be atomic.
	SaveIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Remove(ctx context.Context, key string) error
}

// Key is a typed handle on a state key.
type Key[T any] struct {
	Name string
}

// NewKey returns a typed key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{Name: name}
}

// Get decodes the stored value. The zero value is returned when absent.
func (k Key[T]) Get(ctx context.Context, s State) (T, bool, error) {
	var v T
	raw, found, err := s.Load(ctx, k.Name)
	if err != nil || !found {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, eris.Wrapf(err, "state: decode %s", k.Name)
	}
	return v, true, nil
}

// GetOr returns the stored value or def when absent.
func (k Key[T]) GetOr(ctx context.Context, s State, def T) (T, error) {
	v, found, err := k.Get(ctx, s)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// Set encodes and stores v.
func (k Key[T]) Set(ctx context.Context, s State, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "state: encode %s", k.Name)
	}
	return s.Save(ctx, k.Name, raw)
}

// SetIfAbsent stores v only when the key is absent.
func (k Key[T]) SetIfAbsent(ctx context.Context, s State, v T) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, eris.Wrapf(err, "state: encode %s", k.Name)
	}
	return s.SaveIfAbsent(ctx, k.Name, raw)
}

// Delete removes the key.
func (k Key[T]) Delete(ctx context.Context, s State) error {
	return s.Remove(ctx, k.Name)
}

// Memory is an in-process State.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory State.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) SaveIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
