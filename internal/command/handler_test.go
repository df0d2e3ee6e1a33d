package command

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/credit-ledger/internal/domain/account"
	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/example/credit-ledger/internal/domain/schedule"
	"github.com/example/credit-ledger/internal/eventbus"
	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/infrastructure/store/mocks"
	"github.com/example/credit-ledger/internal/projection"
	"github.com/example/credit-ledger/internal/query"
	"github.com/example/credit-ledger/internal/readmodel"
)

type testLedger struct {
	bus     *Bus
	events  *mocks.MockEventStore
	repo    *aggregate.Repository
	queries *query.Bus
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	events := mocks.NewMockEventStore()
	readStore := store.NewReadStore()

	publisher := eventbus.NewBus(nil)
	projection.NewProjector(readStore, nil).Register(publisher)
	repo := aggregate.NewRepository(events, nil, publisher, nil)

	bus := NewBus(nil)
	require.NoError(t, NewHandler(repo).Register(bus))

	queries := query.NewBus(nil)
	require.NoError(t, query.NewHandler(readStore).Register(queries))

	return &testLedger{bus: bus, events: events, repo: repo, queries: queries}
}

func (l *testLedger) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	b, err := query.Execute[readmodel.AccountBalance](context.Background(), l.queries, query.New(query.GetAccountBalance{AccountID: accountID}))
	require.NoError(t, err)
	return b.Balance
}

func (l *testLedger) account(t *testing.T, accountID string) *account.Account {
	t.Helper()
	a, err := aggregate.Load(context.Background(), l.repo, accountID, account.New)
	require.NoError(t, err)
	return a
}

// ============================================
// Grant / Withdraw Tests
// ============================================

func TestHandler_GrantCredit(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.bus.Dispatch(context.Background(), New(GrantCredit{AccountID: "A", Amount: 100})))

	assert.Equal(t, int64(100), l.balance(t, "A"))
	require.Equal(t, 1, l.events.AppendCount())
	event := l.events.AppendCalls[0].Events[0]
	assert.Equal(t, account.EventCreditGranted, event.EventType)
	assert.Equal(t, TypeGrantCredit, event.Metadata["command_type"])
	assert.NotEmpty(t, event.Metadata["command_id"])
}

func TestHandler_WithdrawInsufficientBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.bus.Dispatch(ctx, New(GrantCredit{AccountID: "A", Amount: 100})))
	err := l.bus.Dispatch(ctx, New(WithdrawCredit{AccountID: "A", Amount: 150}))

	require.ErrorIs(t, err, account.ErrDomain)
	assert.EqualError(t, err, "Insufficient balance")
	assert.Equal(t, int64(100), l.balance(t, "A"))
	assert.Equal(t, 1, l.events.AppendCount())
}

func TestHandler_Withdraw(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.bus.Dispatch(ctx, New(GrantCredit{AccountID: "A", Amount: 100})))
	require.NoError(t, l.bus.Dispatch(ctx, New(WithdrawCredit{AccountID: "A", Amount: 60})))

	assert.Equal(t, int64(40), l.balance(t, "A"))
	assert.Equal(t, int64(40), l.account(t, "A").Balance())
}

func TestHandler_InvalidAmount(t *testing.T) {
	l := newTestLedger(t)

	for _, cmd := range []Command{
		New(GrantCredit{AccountID: "A", Amount: 0}),
		New(GrantCredit{AccountID: "A", Amount: -5}),
		New(WithdrawCredit{AccountID: "A", Amount: 0}),
	} {
		assert.ErrorIs(t, l.bus.Dispatch(context.Background(), cmd), account.ErrDomain)
	}
	assert.Zero(t, l.events.AppendCount())
}

func TestHandler_MissingAccountID(t *testing.T) {
	l := newTestLedger(t)

	err := l.bus.Dispatch(context.Background(), New(GrantCredit{Amount: 10}))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, l.events.AppendCount())
}

func TestHandler_UnknownCommandAppendsNothing(t *testing.T) {
	l := newTestLedger(t)

	cmd := New(GrantCredit{AccountID: "A", Amount: 1})
	cmd.Type = "FOO"
	assert.ErrorIs(t, l.bus.Dispatch(context.Background(), cmd), ErrHandlerNotFound)
	assert.Zero(t, l.events.AppendCount())
}

// ============================================
// Privileged Command Tests
// ============================================

func TestHandler_ResetAccount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.bus.Dispatch(ctx, New(GrantCredit{AccountID: "B", Amount: 1000})))
	require.NoError(t, l.bus.Dispatch(ctx, New(ResetAccount{AccountID: "B", Period: "2026-10"})))

	assert.Zero(t, l.balance(t, "B"))
	assert.Zero(t, l.account(t, "B").Balance())
}

func TestHandler_ResetUnknownAccount(t *testing.T) {
	l := newTestLedger(t)

	err := l.bus.Dispatch(context.Background(), New(ResetAccount{AccountID: "ghost"}))
	assert.ErrorIs(t, err, account.ErrDomain)
}

func TestHandler_RequestAndProcessReversal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.bus.Dispatch(ctx, New(GrantCredit{AccountID: "A", Amount: 50})))
	require.NoError(t, l.bus.Dispatch(ctx, New(RequestReversal{AccountID: "A", TransactionID: "tx-1", Amount: 20})))

	// The request alone moves no money
	assert.Equal(t, int64(50), l.balance(t, "A"))

	require.NoError(t, l.bus.Dispatch(ctx, New(ProcessReversal{AccountID: "A", TransactionID: "tx-1", Amount: 20})))
	assert.Equal(t, int64(70), l.balance(t, "A"))
}

func TestHandler_TriggerMonthlyReset(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.bus.Dispatch(ctx, New(TriggerMonthlyReset{Period: "2026-10"})))

	events, err := l.events.ReadStream(ctx, schedule.StreamID("2026-10"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schedule.EventMonthlyResetTriggered, events[0].EventType)

	assert.ErrorIs(t, l.bus.Dispatch(ctx, New(TriggerMonthlyReset{Period: "2026-10"})), account.ErrDomain)
	assert.ErrorIs(t, l.bus.Dispatch(ctx, New(TriggerMonthlyReset{Period: "October"})), account.ErrDomain)
	assert.ErrorIs(t, l.bus.Dispatch(ctx, New(TriggerMonthlyReset{})), ErrValidation)
}

// ============================================
// Concurrency Tests
// ============================================

// raceAppends holds the first two appends until both commands have loaded
// the same version, so they collide on the next one.
func raceAppends(events *mocks.MockEventStore) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	var calls atomic.Int32
	events.AppendCallback = func(ctx context.Context, _ []store.Event) error {
		if calls.Add(1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
		return nil
	}
}

func TestHandler_ConcurrentGrantsConflict(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.bus.Dispatch(ctx, New(GrantCredit{AccountID: "C", Amount: 10})))

	raceAppends(l.events)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.bus.Dispatch(ctx, New(GrantCredit{AccountID: "C", Amount: 5}))
		}(i)
	}
	wg.Wait()

	var conflicts int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, store.ErrConcurrencyConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts)

	stream, err := l.events.ReadStream(ctx, "C")
	require.NoError(t, err)
	assert.Len(t, stream, 2)
	assert.Equal(t, int64(15), l.balance(t, "C"))
}

func TestHandler_ConcurrentGrantsWithRetry(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.bus.Dispatch(ctx, New(GrantCredit{AccountID: "C", Amount: 10})))

	raceAppends(l.events)

	amounts := []int64{5, 7}
	errs := make([]error, len(amounts))
	var wg sync.WaitGroup
	for i, amount := range amounts {
		wg.Add(1)
		go func(i int, amount int64) {
			defer wg.Done()
			errs[i] = DispatchWithRetry(ctx, l.bus, New(GrantCredit{AccountID: "C", Amount: amount}), 3)
		}(i, amount)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	stream, err := l.events.ReadStream(ctx, "C")
	require.NoError(t, err)
	require.Len(t, stream, 3)
	for i, e := range stream {
		assert.Equal(t, i+1, e.Version)
	}
	assert.Equal(t, int64(22), l.account(t, "C").Balance())
	assert.Equal(t, int64(22), l.balance(t, "C"))
}
