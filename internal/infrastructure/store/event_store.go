package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a persisted domain event
type Event struct {
	ID            string            `json:"id"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     string            `json:"event_type"`
	Version       int               `json:"version"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewEvent builds an event with a fresh id, encoding data as the payload
func NewEvent(aggregateID, aggregateType, eventType string, version int, data any) (Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Version:       version,
		Data:          jsonData,
		Metadata:      map[string]string{},
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// EventStore is an in-memory event store. It enforces the same
// per-aggregate version rules as the durable implementations.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]Event // aggregateID -> events
}

func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string][]Event),
	}
}

// Append stores the batch atomically: either every event is stored or none
func (es *EventStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := validateBatch(events); err != nil {
		return err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	next := make(map[string]int)
	for _, event := range events {
		expected, ok := next[event.AggregateID]
		if !ok {
			expected = len(es.events[event.AggregateID]) + 1
		}
		if err := checkVersion(event, expected); err != nil {
			return err
		}
		next[event.AggregateID] = expected + 1
	}

	for _, event := range events {
		es.events[event.AggregateID] = append(es.events[event.AggregateID], event)
	}
	return nil
}

// ReadStream returns the events of one aggregate in ascending version order
func (es *EventStore) ReadStream(ctx context.Context, aggregateID string, opts ...StreamOption) ([]Event, error) {
	o := newStreamOptions(opts)

	es.mu.RLock()
	defer es.mu.RUnlock()

	var out []Event
	for _, event := range es.events[aggregateID] {
		if o.includes(event.Version) {
			out = append(out, event)
		}
	}
	return out, nil
}

// LatestVersion returns 0 when the aggregate has no events
func (es *EventStore) LatestVersion(ctx context.Context, aggregateID string) (int, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.events[aggregateID]), nil
}

// ReadAll returns every event ordered by timestamp
func (es *EventStore) ReadAll(ctx context.Context) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var all []Event
	for _, events := range es.events {
		all = append(all, events...)
	}
	sortByTime(all)
	return all, nil
}

// ReadByType returns events of one type recorded at or after since
func (es *EventStore) ReadByType(ctx context.Context, eventType string, since time.Time) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var out []Event
	for _, events := range es.events {
		for _, event := range events {
			if event.EventType == eventType && !event.Timestamp.Before(since) {
				out = append(out, event)
			}
		}
	}
	sortByTime(out)
	return out, nil
}

func sortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			if events[i].AggregateID == events[j].AggregateID {
				return events[i].Version < events[j].Version
			}
			return events[i].AggregateID < events[j].AggregateID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
