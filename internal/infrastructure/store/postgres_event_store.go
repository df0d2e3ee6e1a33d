package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresEventStore stores events in PostgreSQL. The UNIQUE
// (aggregate_id, version) constraint decides races between writers.
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

const selectEvents = `SELECT id, aggregate_id, aggregate_type, event_type, version, payload, metadata, timestamp FROM events`

// Append stores the batch in one transaction
func (es *PostgresEventStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := validateBatch(events); err != nil {
		return err
	}

	return WithTransaction(ctx, es.db, func(tx Executor) error {
		next := make(map[string]int)
		for _, event := range events {
			expected, ok := next[event.AggregateID]
			if !ok {
				latest, err := latestVersion(ctx, tx, event.AggregateID)
				if err != nil {
					return err
				}
				expected = latest + 1
			}
			if err := checkVersion(event, expected); err != nil {
				return err
			}
			if err := insertEvent(ctx, tx, event); err != nil {
				return err
			}
			next[event.AggregateID] = expected + 1
		}
		return nil
	})
}

// versionConstraint guards one event per aggregate version
const versionConstraint = "events_aggregate_version_key"

func insertEvent(ctx context.Context, tx Executor, event Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	// A concurrent writer that committed the same version first makes this
	// insert a no-op, never a duplicate.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, version, payload, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (aggregate_id, version) DO NOTHING`,
		event.ID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		event.Version,
		[]byte(event.Data),
		metadata,
		event.Timestamp,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == versionConstraint {
				return &ConcurrencyConflictError{AggregateID: event.AggregateID, Version: event.Version}
			}
			return fmt.Errorf("failed to insert event %s: %w: %w", event.ID, ErrDuplicateEventID, err)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &ConcurrencyConflictError{AggregateID: event.AggregateID, Version: event.Version}
	}
	return nil
}

func latestVersion(ctx context.Context, q Executor, aggregateID string) (int, error) {
	var version int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest version: %w", err)
	}
	return version, nil
}

// ReadStream returns the events for an aggregate from PostgreSQL
func (es *PostgresEventStore) ReadStream(ctx context.Context, aggregateID string, opts ...StreamOption) ([]Event, error) {
	o := newStreamOptions(opts)
	rows, err := es.db.QueryContext(ctx,
		selectEvents+`
		 WHERE aggregate_id = $1 AND version >= $2 AND version <= $3
		 ORDER BY version ASC`,
		aggregateID, o.from, o.upper(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

func (es *PostgresEventStore) LatestVersion(ctx context.Context, aggregateID string) (int, error) {
	return latestVersion(ctx, es.db, aggregateID)
}

// ReadAll returns all events from PostgreSQL
func (es *PostgresEventStore) ReadAll(ctx context.Context) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, selectEvents+` ORDER BY timestamp ASC, aggregate_id, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// ReadByType returns events of one type recorded at or after since
func (es *PostgresEventStore) ReadByType(ctx context.Context, eventType string, since time.Time) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx,
		selectEvents+`
		 WHERE event_type = $1 AND timestamp >= $2
		 ORDER BY timestamp ASC, aggregate_id, version`,
		eventType, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Version, &payload, &metadata, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Data = json.RawMessage(payload)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of event %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
