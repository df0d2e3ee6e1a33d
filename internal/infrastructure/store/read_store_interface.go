package store

import (
	"context"
	"time"

	"github.com/example/credit-ledger/internal/readmodel"
)

// ReadStoreInterface defines the interface for read model storage.
// Writes are single-key upserts so projections never need a lock.
type ReadStoreInterface interface {
	// ApplyBalanceDelta adds delta to the account balance, creating the row
	// when missing, and records version if it is higher than the stored one.
	ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, version int, at time.Time) error

	// GetBalance returns false when the account has no projection yet
	GetBalance(ctx context.Context, accountID string) (*readmodel.AccountBalance, bool, error)

	ListAccountsWithPositiveBalance(ctx context.Context) ([]readmodel.AccountBalance, error)

	// AppendTransaction is a no-op when a transaction with the same id exists
	AppendTransaction(ctx context.Context, tx readmodel.Transaction) error

	// ListTransactions returns one page of history, newest first, and the total count
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]readmodel.Transaction, int, error)

	// Clear drops every read model, used before a rebuild
	Clear(ctx context.Context) error
}
