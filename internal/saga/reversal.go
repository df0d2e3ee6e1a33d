package saga

import (
	"context"

	"github.com/example/credit-ledger/internal/command"
	"github.com/example/credit-ledger/internal/domain/account"
	"github.com/example/credit-ledger/internal/infrastructure/store"
)

const TypeReversal = "ReversalSaga"

// DefaultConflictRetries is how often a saga step is re-dispatched after
// losing an optimistic concurrency race
const DefaultConflictRetries = command.DefaultRetryAttempts

// Reversal turns a ReversalRequested event into a ProcessReversal command
type Reversal struct {
	commands command.Dispatcher
	retries  int
}

func NewReversal(commands command.Dispatcher) *Reversal {
	return &Reversal{commands: commands, retries: DefaultConflictRetries}
}

func (*Reversal) Type() string    { return TypeReversal }
func (*Reversal) Trigger() string { return account.EventReversalRequested }

type reversalResult struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	CommandID     string `json:"command_id"`
}

func (r *Reversal) Run(ctx context.Context, event store.Event) (any, error) {
	var requested account.ReversalRequested
	if err := event.Decode(&requested); err != nil {
		return nil, err
	}

	cmd := command.New(command.ProcessReversal{
		AccountID:     event.AggregateID,
		TransactionID: requested.TransactionID,
		Amount:        requested.Amount,
	})
	cmd.Metadata["causation_id"] = event.ID

	result := reversalResult{
		AccountID:     event.AggregateID,
		TransactionID: requested.TransactionID,
		Amount:        requested.Amount,
		CommandID:     cmd.ID,
	}
	return result, command.DispatchWithRetry(ctx, r.commands, cmd, r.retries)
}
