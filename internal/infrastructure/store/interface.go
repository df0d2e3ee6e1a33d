package store

import (
	"context"
	"time"
)

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	// Append persists the batch in one atomic write. A version that is already
	// taken fails the whole batch with a ConcurrencyConflictError.
	Append(ctx context.Context, events []Event) error

	// ReadStream returns the events of one aggregate ordered by version,
	// optionally bounded with FromVersion / ToVersion (both inclusive).
	ReadStream(ctx context.Context, aggregateID string, opts ...StreamOption) ([]Event, error)

	// LatestVersion returns the highest persisted version, 0 if none.
	LatestVersion(ctx context.Context, aggregateID string) (int, error)

	ReadAll(ctx context.Context) ([]Event, error)
	ReadByType(ctx context.Context, eventType string, since time.Time) ([]Event, error)
}

// StreamOption bounds a ReadStream call
type StreamOption func(*streamOptions)

type streamOptions struct {
	from int
	to   int // 0 means unbounded
}

// FromVersion skips events below v
func FromVersion(v int) StreamOption {
	return func(o *streamOptions) { o.from = v }
}

// ToVersion skips events above v
func ToVersion(v int) StreamOption {
	return func(o *streamOptions) { o.to = v }
}

func newStreamOptions(opts []StreamOption) streamOptions {
	o := streamOptions{from: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o streamOptions) includes(version int) bool {
	if version < o.from {
		return false
	}
	return o.to == 0 || version <= o.to
}

// upper returns the inclusive upper bound usable in range queries
func (o streamOptions) upper() int {
	if o.to == 0 {
		return int(^uint32(0) >> 1)
	}
	return o.to
}
