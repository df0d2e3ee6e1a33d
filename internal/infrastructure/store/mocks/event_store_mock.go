package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is a mock implementation of EventStoreInterface for testing.
// Without an injected error it behaves like the in-memory store.
type MockEventStore struct {
	mu    sync.Mutex
	inner *store.EventStore

	// For tracking calls in tests
	AppendCalls    []AppendCall
	ReadCalls      []string
	AppendErr      error
	AppendCallback func(ctx context.Context, events []store.Event) error
}

// AppendCall records the batch passed to Append
type AppendCall struct {
	Events []store.Event
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		inner:       store.NewEventStore(),
		AppendCalls: make([]AppendCall, 0),
	}
}

// Append records the call, then returns the injected error or stores the batch
func (m *MockEventStore) Append(ctx context.Context, events []store.Event) error {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{Events: append([]store.Event(nil), events...)})
	callback, appendErr := m.AppendCallback, m.AppendErr
	m.mu.Unlock()

	// Use callback if provided
	if callback != nil {
		if err := callback(ctx, events); err != nil {
			return err
		}
	}
	if appendErr != nil {
		return appendErr
	}
	return m.inner.Append(ctx, events)
}

func (m *MockEventStore) ReadStream(ctx context.Context, aggregateID string, opts ...store.StreamOption) ([]store.Event, error) {
	m.mu.Lock()
	m.ReadCalls = append(m.ReadCalls, aggregateID)
	m.mu.Unlock()
	return m.inner.ReadStream(ctx, aggregateID, opts...)
}

func (m *MockEventStore) LatestVersion(ctx context.Context, aggregateID string) (int, error) {
	return m.inner.LatestVersion(ctx, aggregateID)
}

func (m *MockEventStore) ReadAll(ctx context.Context) ([]store.Event, error) {
	return m.inner.ReadAll(ctx)
}

func (m *MockEventStore) ReadByType(ctx context.Context, eventType string, since time.Time) ([]store.Event, error) {
	return m.inner.ReadByType(ctx, eventType, since)
}

// AppendCount returns the number of Append calls so far
func (m *MockEventStore) AppendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AppendCalls)
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner = store.NewEventStore()
	m.AppendCalls = make([]AppendCall, 0)
	m.ReadCalls = nil
	m.AppendErr = nil
	m.AppendCallback = nil
}

// AddEvent appends the next event of an aggregate directly, bypassing recording
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	ctx := context.Background()
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	version, err := m.inner.LatestVersion(ctx, aggregateID)
	if err != nil {
		return err
	}
	return m.inner.Append(ctx, []store.Event{{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Version:       version + 1,
		Data:          jsonData,
		Timestamp:     time.Now().UTC(),
	}})
}
