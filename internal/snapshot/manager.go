package snapshot

import (
	"context"
	"fmt"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"go.uber.org/zap"
)

// DefaultRetain is the number of snapshot generations kept per aggregate
const DefaultRetain = 2

// Manager decides when an aggregate is snapshotted and prunes generations
// that fall out of the retention window. Snapshots only bound replay cost;
// the event log stays authoritative.
type Manager struct {
	store     store.SnapshotStore
	threshold int
	retain    int
	logger    *zap.Logger
}

func NewManager(s store.SnapshotStore, threshold, retain int, logger *zap.Logger) *Manager {
	if threshold <= 0 {
		threshold = store.DefaultSnapshotThreshold
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     s,
		threshold: threshold,
		retain:    retain,
		logger:    logger.Named("snapshot"),
	}
}

func (m *Manager) Threshold() int { return m.threshold }

// ShouldSnapshot reports whether version lands on the snapshot threshold
func (m *Manager) ShouldSnapshot(version int) bool {
	return version > 0 && version%m.threshold == 0
}

// Latest returns nil when the aggregate has never been snapshotted
func (m *Manager) Latest(ctx context.Context, aggregateID string) (*store.Snapshot, error) {
	s, err := m.store.GetLatestSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// Save stores the snapshot, then prunes generations outside the retention window
func (m *Manager) Save(ctx context.Context, s *store.Snapshot) error {
	if err := m.store.SaveSnapshot(ctx, s); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	m.logger.Debug("snapshot saved",
		zap.String("aggregate_id", s.AggregateID),
		zap.Int("version", s.Version),
	)
	return m.Prune(ctx, s.AggregateID, s.Version)
}

// Prune deletes snapshots older than the retained generations ending at version
func (m *Manager) Prune(ctx context.Context, aggregateID string, version int) error {
	cutoff := version - (m.retain-1)*m.threshold
	if cutoff <= 0 {
		return nil
	}
	if err := m.store.DeleteSnapshotsBeforeVersion(ctx, aggregateID, cutoff); err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return nil
}
