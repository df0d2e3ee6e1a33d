package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps sagas in the sagas table
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, saga Saga) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sagas (id, type, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, saga.ID, saga.Type, string(saga.Status), []byte(saga.Data), saga.CreatedAt, saga.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert saga: %w", err)
	}
	return nil
}

func (s *PostgresStore) Finish(ctx context.Context, id string, status Status, data json.RawMessage, at time.Time) error {
	if err := checkFinishStatus(status); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sagas SET status = $2, data = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(status), []byte(data), at, string(StatusStarted))
	if err != nil {
		return fmt.Errorf("failed to update saga: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update saga: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, id, current.Status)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Saga, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, data, created_at, updated_at
		FROM sagas WHERE id = $1
	`, id)
	saga, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saga: %w", err)
	}
	return &saga, nil
}

func (s *PostgresStore) List(ctx context.Context, status Status) ([]Saga, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, data, created_at, updated_at
		FROM sagas WHERE $1::text = '' OR status = $1
		ORDER BY created_at, id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	defer rows.Close()

	var out []Saga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saga: %w", err)
		}
		out = append(out, saga)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSaga(row scanner) (Saga, error) {
	var (
		saga   Saga
		status string
		data   []byte
	)
	if err := row.Scan(&saga.ID, &saga.Type, &status, &data, &saga.CreatedAt, &saga.UpdatedAt); err != nil {
		return Saga{}, err
	}
	saga.Status = Status(status)
	saga.Data = json.RawMessage(data)
	return saga, nil
}
