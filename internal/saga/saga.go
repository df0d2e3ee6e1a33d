package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrSagaNotFound = errors.New("saga not found")
	// ErrSagaTerminal is returned when finishing a saga that already completed or failed
	ErrSagaTerminal = errors.New("saga already finished")
	// ErrInvalidStatus is returned when Finish is asked for a non-terminal status
	ErrInvalidStatus = errors.New("invalid saga status")
)

// Saga is the persisted record of one process run
type Saga struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    Status          `json:"status"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s Saga) Terminal() bool {
	return s.Status.terminal()
}

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func checkFinishStatus(status Status) error {
	if !status.terminal() {
		return fmt.Errorf("%w: cannot finish as %q", ErrInvalidStatus, status)
	}
	return nil
}

// Store persists saga records
type Store interface {
	Create(ctx context.Context, s Saga) error

	// Finish moves a STARTED saga to COMPLETED or FAILED. Any other target
	// yields ErrInvalidStatus; any other current status yields
	// ErrSagaTerminal. Either way the record is left unchanged.
	Finish(ctx context.Context, id string, status Status, data json.RawMessage, at time.Time) error

	Get(ctx context.Context, id string) (*Saga, error)

	// List returns sagas oldest first; an empty status lists all of them
	List(ctx context.Context, status Status) ([]Saga, error)
}
