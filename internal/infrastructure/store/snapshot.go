package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// DefaultSnapshotThreshold defines the number of events after which a snapshot is created
const DefaultSnapshotThreshold = 100

// Snapshot represents a point-in-time state of an aggregate
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"` // Event version at snapshot time
	State         json.RawMessage `json:"state"`   // Serialized aggregate state
	CreatedAt     time.Time       `json:"created_at"`
}

// SnapshotStore persists snapshots. Snapshots are disposable: losing them
// only makes replay longer.
type SnapshotStore interface {
	// SaveSnapshot stores s unless a snapshot with a higher version exists.
	// A snapshot with the same version is overwritten.
	SaveSnapshot(ctx context.Context, s *Snapshot) error

	// GetLatestSnapshot returns nil, nil when no snapshot exists.
	GetLatestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	DeleteSnapshotsBeforeVersion(ctx context.Context, aggregateID string, version int) error
}

// MemorySnapshotStore keeps every snapshot generation in memory
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]Snapshot // aggregateID -> ascending by version
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string][]Snapshot)}
}

func (m *MemorySnapshotStore) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.snapshots[s.AggregateID]
	if n := len(existing); n > 0 && existing[n-1].Version > s.Version {
		return nil
	}
	for i := range existing {
		if existing[i].Version == s.Version {
			existing[i] = *s
			return nil
		}
	}
	existing = append(existing, *s)
	sort.Slice(existing, func(i, j int) bool { return existing[i].Version < existing[j].Version })
	m.snapshots[s.AggregateID] = existing
	return nil
}

func (m *MemorySnapshotStore) GetLatestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing := m.snapshots[aggregateID]
	if len(existing) == 0 {
		return nil, nil
	}
	latest := existing[len(existing)-1]
	return &latest, nil
}

func (m *MemorySnapshotStore) DeleteSnapshotsBeforeVersion(ctx context.Context, aggregateID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.snapshots[aggregateID][:0]
	for _, s := range m.snapshots[aggregateID] {
		if s.Version >= version {
			kept = append(kept, s)
		}
	}
	m.snapshots[aggregateID] = kept
	return nil
}

// Snapshots lists the stored generations for an aggregate, oldest first
func (m *MemorySnapshotStore) Snapshots(aggregateID string) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.snapshots[aggregateID]...)
}

// Clear drops every snapshot
func (m *MemorySnapshotStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[string][]Snapshot)
}
