package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/snapshot"
	"go.uber.org/zap"
)

// ErrPublish marks a Save whose events were persisted but not fully delivered
var ErrPublish = errors.New("events persisted but publish failed")

// Publisher delivers persisted events to subscribers
type Publisher interface {
	Publish(ctx context.Context, event store.Event) error
}

// Repository persists and rebuilds aggregates
type Repository struct {
	events    store.EventStoreInterface
	snapshots *snapshot.Manager
	publisher Publisher
	logger    *zap.Logger
}

// NewRepository wires the repository. snapshots and publisher may be nil.
func NewRepository(events store.EventStoreInterface, snapshots *snapshot.Manager, publisher Publisher, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		events:    events,
		snapshots: snapshots,
		publisher: publisher,
		logger:    logger.Named("repository"),
	}
}

// Load rebuilds an aggregate from its latest snapshot and the events after it
func Load[T Aggregate](ctx context.Context, r *Repository, id string, newAggregate func(id string) T) (T, error) {
	agg := newAggregate(id)

	var snap *store.Snapshot
	if r.snapshots != nil {
		s, err := r.snapshots.Latest(ctx, id)
		if err != nil {
			// replay from the start instead
			r.logger.Warn("ignoring unreadable snapshot", zap.String("aggregate_id", id), zap.Error(err))
		} else {
			snap = s
		}
	}

	from := 1
	if snap != nil {
		from = snap.Version + 1
	}
	events, err := r.events.ReadStream(ctx, id, store.FromVersion(from))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to read events: %w", err)
	}

	if err := agg.LoadFromHistory(events, snap); err != nil {
		var zero T
		return zero, err
	}
	return agg, nil
}

// Save appends the uncommitted events, publishes them, snapshots when the
// new version lands on the threshold and clears the uncommitted list.
// A publish failure is reported after the fact: the append is final.
func (r *Repository) Save(ctx context.Context, agg Aggregate, metadata map[string]string) error {
	events := agg.Uncommitted()
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].Metadata == nil {
			events[i].Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			events[i].Metadata[k] = v
		}
	}

	if err := r.events.Append(ctx, events); err != nil {
		return err
	}

	var publishErr error
	if r.publisher != nil {
		for _, event := range events {
			if err := r.publisher.Publish(ctx, event); err != nil {
				publishErr = errors.Join(publishErr, err)
			}
		}
	}

	r.maybeSnapshot(ctx, agg)
	agg.ClearUncommitted()

	if publishErr != nil {
		return fmt.Errorf("%w: %w", ErrPublish, publishErr)
	}
	return nil
}

// maybeSnapshot never fails the save; a missing snapshot only slows replay
func (r *Repository) maybeSnapshot(ctx context.Context, agg Aggregate) {
	if r.snapshots == nil || !r.snapshots.ShouldSnapshot(agg.Version()) {
		return
	}
	state, err := agg.State()
	if err == nil {
		err = r.snapshots.Save(ctx, &store.Snapshot{
			AggregateID:   agg.ID(),
			AggregateType: agg.Type(),
			Version:       agg.Version(),
			State:         state,
			CreatedAt:     time.Now().UTC(),
		})
	}
	if err != nil {
		r.logger.Warn("snapshot failed",
			zap.String("aggregate_id", agg.ID()),
			zap.Int("version", agg.Version()),
			zap.Error(err),
		)
	}
}
