package ledger

import (
	"context"
	"sync"
)

// Store persists whole invocation states. Implementations need not serialize
// read-modify-write sequences; the Ledger does that.
type Store interface {
	Load(ctx context.Context, invocationID string) (*AppState, bool, error)
	Save(ctx context.Context, invocationID string, state *AppState) error
	Delete(ctx context.Context, invocationID string) (bool, error)
	All(ctx context.Context) (map[string]*AppState, error)
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*AppState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*AppState)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*AppState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	return s.clone(), ok, nil
}

func (m *MemoryStore) Save(_ context.Context, id string, state *AppState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		return false, nil
	}
	delete(m.states, id)
	return true, nil
}

func (m *MemoryStore) All(_ context.Context) (map[string]*AppState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*AppState, len(m.states))
	for id, s := range m.states {
		out[id] = s.clone()
	}
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*AppState)
	return nil
}
