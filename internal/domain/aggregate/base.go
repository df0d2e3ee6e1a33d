package aggregate

import (
	"encoding/json"
	"fmt"

	"github.com/example/credit-ledger/internal/infrastructure/store"
)

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	ID() string
	Type() string
	Version() int

	// Apply routes the event to its reducer and advances the version.
	// New events are also queued as uncommitted.
	Apply(event store.Event, isNew bool) error

	// LoadFromHistory restores the snapshot state, if any, then replays events
	LoadFromHistory(events []store.Event, snapshot *store.Snapshot) error

	Uncommitted() []store.Event
	ClearUncommitted()

	// State serializes the aggregate state for snapshots
	State() (json.RawMessage, error)
}

// Reducer folds one event into aggregate state
type Reducer func(event store.Event) error

// Root holds the bookkeeping shared by all aggregates. Concrete aggregates
// embed it and register a reducer per event type at construction.
type Root struct {
	id            string
	aggregateType string
	version       int
	uncommitted   []store.Event
	reducers      map[string]Reducer
	state         any // pointer to the concrete state, serialized for snapshots
}

// NewRoot creates a root whose snapshot state is the value state points to
func NewRoot(id, aggregateType string, state any) Root {
	return Root{
		id:            id,
		aggregateType: aggregateType,
		reducers:      make(map[string]Reducer),
		state:         state,
	}
}

func (r *Root) ID() string   { return r.id }
func (r *Root) Type() string { return r.aggregateType }
func (r *Root) Version() int { return r.version }

// Register binds a reducer to an event type
func (r *Root) Register(eventType string, reducer Reducer) {
	r.reducers[eventType] = reducer
}

// On registers a reducer that receives the decoded payload
func On[T any](r *Root, eventType string, fn func(payload T, event store.Event)) {
	r.Register(eventType, func(event store.Event) error {
		var payload T
		if err := event.Decode(&payload); err != nil {
			return err
		}
		fn(payload, event)
		return nil
	})
}

func (r *Root) Apply(event store.Event, isNew bool) error {
	// Unknown event types are skipped so old code can replay newer streams
	if reducer, ok := r.reducers[event.EventType]; ok {
		if err := reducer(event); err != nil {
			return fmt.Errorf("failed to apply %s v%d: %w", event.EventType, event.Version, err)
		}
	}
	r.version = event.Version
	if isNew {
		r.uncommitted = append(r.uncommitted, event)
	}
	return nil
}

// Raise records a new event produced by a domain operation
func (r *Root) Raise(eventType string, payload any) error {
	event, err := store.NewEvent(r.id, r.aggregateType, eventType, r.version+1, payload)
	if err != nil {
		return err
	}
	return r.Apply(event, true)
}

func (r *Root) LoadFromHistory(events []store.Event, snapshot *store.Snapshot) error {
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, r.state); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		r.version = snapshot.Version
	}
	for _, event := range events {
		if err := r.Apply(event, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Root) Uncommitted() []store.Event {
	return append([]store.Event(nil), r.uncommitted...)
}

func (r *Root) ClearUncommitted() {
	r.uncommitted = nil
}

func (r *Root) State() (json.RawMessage, error) {
	state, err := json.Marshal(r.state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregate state: %w", err)
	}
	return state, nil
}
