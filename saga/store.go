package saga

import (
	"context"
	"errors"
	"sync"
)

// ErrStateNotFound is returned when no saga exists for a correlation id.
var ErrStateNotFound = errors.New("saga state not found")

// Store persists saga state keyed by correlation id. It is an explicit
// dependency of the coordinator so tests can inject an in-memory store.
type Store interface {
	Save(ctx context.Context, state *State) error
	Load(ctx context.Context, correlationID string) (*State, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*State),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *state
	clone.CompensationLog = append([]CompletedStep(nil), state.CompensationLog...)
	clone.AuditLog = append([]AuditEntry(nil), state.AuditLog...)
	s.states[state.CorrelationID] = &clone
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, correlationID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[correlationID]
	if !exists {
		return nil, ErrStateNotFound
	}
	clone := *state
	clone.CompensationLog = append([]CompletedStep(nil), state.CompensationLog...)
	clone.AuditLog = append([]AuditEntry(nil), state.AuditLog...)
	return &clone, nil
}
