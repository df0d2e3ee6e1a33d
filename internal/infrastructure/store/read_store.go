package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/credit-ledger/internal/readmodel"
)

// ReadStore is an in-memory read model store
type ReadStore struct {
	mu           sync.RWMutex
	balances     map[string]*readmodel.AccountBalance
	transactions map[string][]readmodel.Transaction // accountID -> history in arrival order
	seen         map[string]bool                    // transaction ids
}

func NewReadStore() *ReadStore {
	return &ReadStore{
		balances:     make(map[string]*readmodel.AccountBalance),
		transactions: make(map[string][]readmodel.Transaction),
		seen:         make(map[string]bool),
	}
}

func (rs *ReadStore) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, version int, at time.Time) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	b := rs.balance(accountID)
	b.Balance += delta
	if version > b.Version {
		b.Version = version
	}
	b.UpdatedAt = at
	return nil
}

// balance returns the row for accountID, creating it. Callers hold mu.
func (rs *ReadStore) balance(accountID string) *readmodel.AccountBalance {
	b, ok := rs.balances[accountID]
	if !ok {
		b = &readmodel.AccountBalance{AccountID: accountID}
		rs.balances[accountID] = b
	}
	return b
}

func (rs *ReadStore) GetBalance(ctx context.Context, accountID string) (*readmodel.AccountBalance, bool, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	b, ok := rs.balances[accountID]
	if !ok {
		return nil, false, nil
	}
	cp := *b
	return &cp, true, nil
}

// ListAccountsWithPositiveBalance returns accounts ordered by id
func (rs *ReadStore) ListAccountsWithPositiveBalance(ctx context.Context) ([]readmodel.AccountBalance, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var out []readmodel.AccountBalance
	for _, b := range rs.balances {
		if b.Balance > 0 {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (rs *ReadStore) AppendTransaction(ctx context.Context, tx readmodel.Transaction) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.seen[tx.ID] {
		return nil
	}
	rs.seen[tx.ID] = true
	rs.transactions[tx.AccountID] = append(rs.transactions[tx.AccountID], tx)
	return nil
}

func (rs *ReadStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]readmodel.Transaction, int, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	history := append([]readmodel.Transaction(nil), rs.transactions[accountID]...)
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].Timestamp.Equal(history[j].Timestamp) {
			return history[i].Version > history[j].Version
		}
		return history[i].Timestamp.After(history[j].Timestamp)
	})

	total := len(history)
	if offset >= total {
		return []readmodel.Transaction{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return history[offset:end], total, nil
}

func (rs *ReadStore) Clear(ctx context.Context) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.balances = make(map[string]*readmodel.AccountBalance)
	rs.transactions = make(map[string][]readmodel.Transaction)
	rs.seen = make(map[string]bool)
	return nil
}
