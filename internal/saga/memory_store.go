package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu    sync.RWMutex
	sagas map[string]Saga
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sagas: make(map[string]Saga)}
}

func (m *MemoryStore) Create(ctx context.Context, s Saga) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sagas[s.ID]; exists {
		return fmt.Errorf("saga %s already exists", s.ID)
	}
	m.sagas[s.ID] = s
	return nil
}

func (m *MemoryStore) Finish(ctx context.Context, id string, status Status, data json.RawMessage, at time.Time) error {
	if err := checkFinishStatus(status); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sagas[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSagaNotFound, id)
	}
	if s.Status != StatusStarted {
		return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, id, s.Status)
	}
	s.Status = status
	s.Data = data
	s.UpdatedAt = at
	m.sagas[id] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sagas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, id)
	}
	return &s, nil
}

func (m *MemoryStore) List(ctx context.Context, status Status) ([]Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Saga, 0, len(m.sagas))
	for _, s := range m.sagas {
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
