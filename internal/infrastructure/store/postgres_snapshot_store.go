package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresSnapshotStore stores snapshot generations keyed by (aggregate_id, version)
type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// SaveSnapshot inserts the snapshot unless a newer generation already exists
func (s *PostgresSnapshotStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM snapshots WHERE aggregate_id = $1 AND version > $3
		)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET
			aggregate_type = EXCLUDED.aggregate_type,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at
	`, snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, []byte(snapshot.State), snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) GetLatestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var (
		snapshot Snapshot
		state    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, aggregateID).Scan(&snapshot.AggregateID, &snapshot.AggregateType, &snapshot.Version, &state, &snapshot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snapshot.State = state
	return &snapshot, nil
}

func (s *PostgresSnapshotStore) DeleteSnapshotsBeforeVersion(ctx context.Context, aggregateID string, version int) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM snapshots WHERE aggregate_id = $1 AND version < $2",
		aggregateID, version,
	)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return nil
}
