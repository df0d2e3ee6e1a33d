package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/credit-ledger/internal/readmodel"
)

// PostgresReadStore implements ReadStoreInterface using PostgreSQL
type PostgresReadStore struct {
	db *sql.DB
}

// NewPostgresReadStore creates a new PostgreSQL-based read store
func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

func (rs *PostgresReadStore) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, version int, at time.Time) error {
	_, err := rs.db.ExecContext(ctx, `
		INSERT INTO read_account_balances (account_id, balance, version, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			balance = read_account_balances.balance + EXCLUDED.balance,
			version = GREATEST(read_account_balances.version, EXCLUDED.version),
			updated_at = EXCLUDED.updated_at
	`, accountID, delta, version, at)
	if err != nil {
		return fmt.Errorf("failed to apply balance delta: %w", err)
	}
	return nil
}

func (rs *PostgresReadStore) GetBalance(ctx context.Context, accountID string) (*readmodel.AccountBalance, bool, error) {
	var b readmodel.AccountBalance
	err := rs.db.QueryRowContext(ctx, `
		SELECT account_id, balance, version, updated_at
		FROM read_account_balances WHERE account_id = $1
	`, accountID).Scan(&b.AccountID, &b.Balance, &b.Version, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, true, nil
}

func (rs *PostgresReadStore) ListAccountsWithPositiveBalance(ctx context.Context) ([]readmodel.AccountBalance, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT account_id, balance, version, updated_at
		FROM read_account_balances
		WHERE balance > 0
		ORDER BY account_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []readmodel.AccountBalance
	for rows.Next() {
		var b readmodel.AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Balance, &b.Version, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (rs *PostgresReadStore) AppendTransaction(ctx context.Context, tx readmodel.Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = rs.db.ExecContext(ctx, `
		INSERT INTO read_transaction_history (transaction_id, account_id, type, amount, version, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`, tx.ID, tx.AccountID, tx.Type, tx.Amount, tx.Version, tx.Timestamp, metadata)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (rs *PostgresReadStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]readmodel.Transaction, int, error) {
	var total int
	err := rs.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM read_transaction_history WHERE account_id = $1",
		accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := rs.db.QueryContext(ctx, `
		SELECT transaction_id, account_id, type, amount, version, timestamp, metadata
		FROM read_transaction_history
		WHERE account_id = $1
		ORDER BY timestamp DESC, version DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := []readmodel.Transaction{}
	for rows.Next() {
		var (
			tx       readmodel.Transaction
			metadata []byte
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Type, &tx.Amount, &tx.Version, &tx.Timestamp, &metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to decode transaction metadata: %w", err)
			}
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (rs *PostgresReadStore) Clear(ctx context.Context) error {
	return WithTransaction(ctx, rs.db, func(tx Executor) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM read_transaction_history"); err != nil {
			return fmt.Errorf("failed to clear transaction history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM read_account_balances"); err != nil {
			return fmt.Errorf("failed to clear balances: %w", err)
		}
		return nil
	})
}
