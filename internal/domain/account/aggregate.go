package account

import (
	"fmt"
	"time"

	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/example/credit-ledger/internal/infrastructure/store"
)

const AggregateType = "Account"

type DomainError = aggregate.DomainError

var ErrDomain = aggregate.ErrDomain

var (
	ErrInvalidAmount       = &DomainError{Message: "Amount must be positive"}
	ErrInsufficientBalance = &DomainError{Message: "Insufficient balance"}
	ErrAccountNotFound     = &DomainError{Message: "Account not found"}
	ErrMissingTransaction  = &DomainError{Message: "Transaction id is required"}
)

// State is the snapshot-able part of an account
type State struct {
	Balance int64 `json:"balance"`
}

type Account struct {
	aggregate.Root
	state State
}

func New(id string) *Account {
	a := &Account{}
	a.Root = aggregate.NewRoot(id, AggregateType, &a.state)

	aggregate.On(&a.Root, EventCreditGranted, func(e CreditGranted, _ store.Event) {
		a.state.Balance += e.Amount
	})
	aggregate.On(&a.Root, EventCreditWithdrawn, func(e CreditWithdrawn, _ store.Event) {
		a.state.Balance -= e.Amount
	})
	aggregate.On(&a.Root, EventReversalProcessed, func(e ReversalProcessed, _ store.Event) {
		a.state.Balance += e.Amount
	})
	aggregate.On(&a.Root, EventAccountReset, func(AccountReset, store.Event) {
		a.state.Balance = 0
	})
	return a
}

func (a *Account) Balance() int64 { return a.state.Balance }

// Exists reports whether any event has been recorded for the account
func (a *Account) Exists() bool { return a.Version() > 0 }

func (a *Account) GrantCredit(amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return a.Raise(EventCreditGranted, CreditGranted{
		AccountID:   a.ID(),
		Amount:      amount,
		Description: description,
		GrantedAt:   time.Now().UTC(),
	})
}

func (a *Account) Withdraw(amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > a.state.Balance {
		return ErrInsufficientBalance
	}
	return a.Raise(EventCreditWithdrawn, CreditWithdrawn{
		AccountID:   a.ID(),
		Amount:      amount,
		Description: description,
		WithdrawnAt: time.Now().UTC(),
	})
}

// RequestReversal records the request; the reversal saga processes it
func (a *Account) RequestReversal(transactionID string, amount int64, reason string) error {
	if !a.Exists() {
		return ErrAccountNotFound
	}
	if transactionID == "" {
		return ErrMissingTransaction
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return a.Raise(EventReversalRequested, ReversalRequested{
		AccountID:     a.ID(),
		TransactionID: transactionID,
		Amount:        amount,
		Reason:        reason,
		RequestedAt:   time.Now().UTC(),
	})
}

// ProcessReversal is privileged: it is only dispatched by the reversal saga
func (a *Account) ProcessReversal(transactionID string, amount int64) error {
	if !a.Exists() {
		return ErrAccountNotFound
	}
	return a.Raise(EventReversalProcessed, ReversalProcessed{
		AccountID:       a.ID(),
		TransactionID:   transactionID,
		Amount:          amount,
		OriginalBalance: a.state.Balance,
		ProcessedAt:     time.Now().UTC(),
	})
}

// Reset is privileged: it is only dispatched by the monthly reset saga
func (a *Account) Reset(period string) error {
	if !a.Exists() {
		return ErrAccountNotFound
	}
	return a.Raise(EventAccountReset, AccountReset{
		AccountID:       a.ID(),
		PreviousBalance: a.state.Balance,
		Period:          period,
		ResetAt:         time.Now().UTC(),
	})
}

func (a *Account) String() string {
	return fmt.Sprintf("Account(%s v%d balance=%d)", a.ID(), a.Version(), a.state.Balance)
}
