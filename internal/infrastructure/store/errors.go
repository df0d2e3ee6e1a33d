package store

import (
	"errors"
	"fmt"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrVersionGap          = errors.New("event version leaves a gap in the stream")
	ErrInvalidEvent        = errors.New("invalid event")
	ErrDuplicateEventID    = errors.New("event id already stored")
)

// ConcurrencyConflictError reports that another writer already appended the
// given version. Callers reload the aggregate and retry the whole command.
type ConcurrencyConflictError struct {
	AggregateID string
	Version     int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: event with version %d already exists for aggregate %s", e.Version, e.AggregateID)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

func validateBatch(events []Event) error {
	for _, event := range events {
		if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
			return fmt.Errorf("%w: id, aggregate id and type are required", ErrInvalidEvent)
		}
		if event.Version < 1 {
			return fmt.Errorf("%w: version must be positive, got %d", ErrInvalidEvent, event.Version)
		}
	}
	return nil
}

// checkVersion compares an event against the next free version of its stream
func checkVersion(event Event, expected int) error {
	switch {
	case event.Version < expected:
		return &ConcurrencyConflictError{AggregateID: event.AggregateID, Version: event.Version}
	case event.Version > expected:
		return fmt.Errorf("%w: aggregate %s expected version %d, got %d", ErrVersionGap, event.AggregateID, expected, event.Version)
	}
	return nil
}
