package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/example/credit-ledger/internal/command"
	"github.com/example/credit-ledger/internal/domain/schedule"
	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/query"
	"github.com/example/credit-ledger/internal/readmodel"
)

const (
	TypeMonthlyReset = "MonthlyResetSaga"

	DefaultResetConcurrency = 8
)

// MonthlyReset resets every account with a positive balance. Accounts are
// reset independently; the saga fails if any of them could not be reset.
type MonthlyReset struct {
	commands    command.Dispatcher
	queries     query.Executor
	concurrency int
	retries     int
}

func NewMonthlyReset(commands command.Dispatcher, queries query.Executor, concurrency int) *MonthlyReset {
	if concurrency < 1 {
		concurrency = DefaultResetConcurrency
	}
	return &MonthlyReset{
		commands:    commands,
		queries:     queries,
		concurrency: concurrency,
		retries:     DefaultConflictRetries,
	}
}

func (*MonthlyReset) Type() string    { return TypeMonthlyReset }
func (*MonthlyReset) Trigger() string { return schedule.EventMonthlyResetTriggered }

type resetResult struct {
	Period   string            `json:"period"`
	Accounts int               `json:"accounts"`
	Reset    []string          `json:"reset"`
	Failed   map[string]string `json:"failed,omitempty"`
}

func (r *MonthlyReset) Run(ctx context.Context, event store.Event) (any, error) {
	var triggered schedule.MonthlyResetTriggered
	if err := event.Decode(&triggered); err != nil {
		return nil, err
	}

	balances, err := query.Execute[[]readmodel.AccountBalance](ctx, r.queries, query.New(query.ListPositiveBalances{}))
	if err != nil {
		return nil, fmt.Errorf("listing accounts to reset: %w", err)
	}

	result := &resetResult{
		Period:   triggered.Period,
		Accounts: len(balances),
		Reset:    []string{},
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, b := range balances {
		accountID := b.AccountID
		g.Go(func() error {
			cmd := command.New(command.ResetAccount{AccountID: accountID, Period: triggered.Period})
			cmd.Metadata["causation_id"] = event.ID
			err := command.DispatchWithRetry(ctx, r.commands, cmd, r.retries)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if result.Failed == nil {
					result.Failed = make(map[string]string)
				}
				result.Failed[accountID] = err.Error()
				return nil
			}
			result.Reset = append(result.Reset, accountID)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Reset)
	if len(result.Failed) > 0 {
		return result, fmt.Errorf("%d of %d accounts failed to reset for %s", len(result.Failed), result.Accounts, triggered.Period)
	}
	return result, nil
}
