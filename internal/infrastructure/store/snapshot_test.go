package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSnapshot(aggregateID string, version int, balance int64) *Snapshot {
	state, _ := json.Marshal(map[string]int64{"balance": balance})
	return &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: "Account",
		Version:       version,
		State:         state,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestSnapshotThreshold(t *testing.T) {
	assert.Equal(t, 100, DefaultSnapshotThreshold)
}

// =============================================================================
// MemorySnapshotStore Tests
// =============================================================================

func TestMemorySnapshotStore_NoSnapshot(t *testing.T) {
	s := NewMemorySnapshotStore()

	snapshot, err := s.GetLatestSnapshot(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestMemorySnapshotStore_LatestWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()

	require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-1", 100, 10)))
	require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-1", 200, 20)))

	snapshot, err := s.GetLatestSnapshot(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 200, snapshot.Version)
	assert.JSONEq(t, `{"balance":20}`, string(snapshot.State))
}

func TestMemorySnapshotStore_IgnoresOlderVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()

	require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-1", 200, 20)))
	require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-1", 100, 10)))

	snapshot, err := s.GetLatestSnapshot(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 200, snapshot.Version)
	assert.Len(t, s.Snapshots("acc-1"), 1)
}

func TestMemorySnapshotStore_EqualVersionOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()

	require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-1", 100, 10)))
	require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-1", 100, 11)))

	snapshot, err := s.GetLatestSnapshot(ctx, "acc-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":11}`, string(snapshot.State))
	assert.Len(t, s.Snapshots("acc-1"), 1)
}

func TestMemorySnapshotStore_DeleteBeforeVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()
	for _, v := range []int{100, 200, 300} {
		require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-1", v, int64(v))))
	}
	require.NoError(t, s.SaveSnapshot(ctx, newTestSnapshot("acc-2", 100, 1)))

	require.NoError(t, s.DeleteSnapshotsBeforeVersion(ctx, "acc-1", 200))

	remaining := s.Snapshots("acc-1")
	require.Len(t, remaining, 2)
	assert.Equal(t, 200, remaining[0].Version)
	assert.Equal(t, 300, remaining[1].Version)
	assert.Len(t, s.Snapshots("acc-2"), 1)

	s.Clear()
	snapshot, err := s.GetLatestSnapshot(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}
