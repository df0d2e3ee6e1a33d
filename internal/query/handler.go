package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/readmodel"
)

// Handler answers queries from the projected read models
type Handler struct {
	readStore store.ReadStoreInterface
}

func NewHandler(readStore store.ReadStoreInterface) *Handler {
	return &Handler{readStore: readStore}
}

func (h *Handler) Register(bus *Bus) error {
	return errors.Join(
		bus.Register(TypeGetAccountBalance, Handle(h.GetAccountBalance)),
		bus.Register(TypeGetTransactionHistory, Handle(h.GetTransactionHistory)),
		bus.Register(TypeListPositiveBalances, Handle(h.ListPositiveBalances)),
	)
}

// GetAccountBalance returns a zero balance for accounts with no activity
func (h *Handler) GetAccountBalance(ctx context.Context, q Query, p GetAccountBalance) (readmodel.AccountBalance, error) {
	if p.AccountID == "" {
		return readmodel.AccountBalance{}, &ValidationError{Field: "account_id", Reason: "is required"}
	}
	balance, ok, err := h.readStore.GetBalance(ctx, p.AccountID)
	if err != nil {
		return readmodel.AccountBalance{}, fmt.Errorf("getting balance of %s: %w", p.AccountID, err)
	}
	if !ok {
		return readmodel.AccountBalance{AccountID: p.AccountID}, nil
	}
	return *balance, nil
}

func (h *Handler) GetTransactionHistory(ctx context.Context, q Query, p GetTransactionHistory) (readmodel.TransactionPage, error) {
	if p.AccountID == "" {
		return readmodel.TransactionPage{}, &ValidationError{Field: "account_id", Reason: "is required"}
	}
	page, limit := p.Page, p.Limit
	switch {
	case page < 0:
		return readmodel.TransactionPage{}, &ValidationError{Field: "page", Reason: "must not be negative"}
	case limit < 0 || limit > MaxLimit:
		return readmodel.TransactionPage{}, &ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	txs, total, err := h.readStore.ListTransactions(ctx, p.AccountID, limit, (page-1)*limit)
	if err != nil {
		return readmodel.TransactionPage{}, fmt.Errorf("listing transactions of %s: %w", p.AccountID, err)
	}
	if txs == nil {
		txs = []readmodel.Transaction{}
	}
	return readmodel.TransactionPage{Transactions: txs, Total: total, Page: page, Limit: limit}, nil
}

func (h *Handler) ListPositiveBalances(ctx context.Context, q Query, _ ListPositiveBalances) ([]readmodel.AccountBalance, error) {
	return h.readStore.ListAccountsWithPositiveBalance(ctx)
}
