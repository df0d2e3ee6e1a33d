package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/readmodel"
)

// MockReadStore is a mock implementation of ReadStoreInterface for testing
type MockReadStore struct {
	mu    sync.Mutex
	inner *store.ReadStore

	// For tracking calls in tests
	DeltaCalls       []DeltaCall
	TransactionCalls []readmodel.Transaction
	DeltaErr         error
	ListErr          error
	GetErr           error
}

// DeltaCall records parameters passed to ApplyBalanceDelta
type DeltaCall struct {
	AccountID string
	Delta     int64
	Version   int
}

// NewMockReadStore creates a new MockReadStore
func NewMockReadStore() *MockReadStore {
	return &MockReadStore{inner: store.NewReadStore()}
}

func (m *MockReadStore) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, version int, at time.Time) error {
	m.mu.Lock()
	m.DeltaCalls = append(m.DeltaCalls, DeltaCall{AccountID: accountID, Delta: delta, Version: version})
	m.mu.Unlock()
	if m.DeltaErr != nil {
		return m.DeltaErr
	}
	return m.inner.ApplyBalanceDelta(ctx, accountID, delta, version, at)
}

func (m *MockReadStore) GetBalance(ctx context.Context, accountID string) (*readmodel.AccountBalance, bool, error) {
	if m.GetErr != nil {
		return nil, false, m.GetErr
	}
	return m.inner.GetBalance(ctx, accountID)
}

func (m *MockReadStore) ListAccountsWithPositiveBalance(ctx context.Context) ([]readmodel.AccountBalance, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.inner.ListAccountsWithPositiveBalance(ctx)
}

func (m *MockReadStore) AppendTransaction(ctx context.Context, tx readmodel.Transaction) error {
	m.mu.Lock()
	m.TransactionCalls = append(m.TransactionCalls, tx)
	m.mu.Unlock()
	return m.inner.AppendTransaction(ctx, tx)
}

func (m *MockReadStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]readmodel.Transaction, int, error) {
	return m.inner.ListTransactions(ctx, accountID, limit, offset)
}

func (m *MockReadStore) Clear(ctx context.Context) error {
	return m.inner.Clear(ctx)
}
