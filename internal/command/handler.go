package command

import (
	"context"
	"errors"

	"github.com/example/credit-ledger/internal/domain/account"
	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/example/credit-ledger/internal/domain/schedule"
)

// Handler executes account and schedule commands: load the aggregate, run
// the domain operation, save and publish the resulting event.
type Handler struct {
	repo *aggregate.Repository
}

func NewHandler(repo *aggregate.Repository) *Handler {
	return &Handler{repo: repo}
}

// Register binds every command this handler serves to the bus
func (h *Handler) Register(bus *Bus) error {
	return errors.Join(
		bus.Register(TypeGrantCredit, Handle(h.GrantCredit)),
		bus.Register(TypeWithdrawCredit, Handle(h.WithdrawCredit)),
		bus.Register(TypeRequestReversal, Handle(h.RequestReversal)),
		bus.Register(TypeProcessReversal, Handle(h.ProcessReversal)),
		bus.Register(TypeResetAccount, Handle(h.ResetAccount)),
		bus.Register(TypeTriggerMonthlyReset, Handle(h.TriggerMonthlyReset)),
	)
}

func (h *Handler) GrantCredit(ctx context.Context, cmd Command, p GrantCredit) error {
	return h.onAccount(ctx, cmd, p.AccountID, func(a *account.Account) error {
		return a.GrantCredit(p.Amount, p.Description)
	})
}

func (h *Handler) WithdrawCredit(ctx context.Context, cmd Command, p WithdrawCredit) error {
	return h.onAccount(ctx, cmd, p.AccountID, func(a *account.Account) error {
		return a.Withdraw(p.Amount, p.Description)
	})
}

func (h *Handler) RequestReversal(ctx context.Context, cmd Command, p RequestReversal) error {
	return h.onAccount(ctx, cmd, p.AccountID, func(a *account.Account) error {
		return a.RequestReversal(p.TransactionID, p.Amount, p.Reason)
	})
}

func (h *Handler) ProcessReversal(ctx context.Context, cmd Command, p ProcessReversal) error {
	return h.onAccount(ctx, cmd, p.AccountID, func(a *account.Account) error {
		return a.ProcessReversal(p.TransactionID, p.Amount)
	})
}

func (h *Handler) ResetAccount(ctx context.Context, cmd Command, p ResetAccount) error {
	return h.onAccount(ctx, cmd, p.AccountID, func(a *account.Account) error {
		return a.Reset(p.Period)
	})
}

func (h *Handler) TriggerMonthlyReset(ctx context.Context, cmd Command, p TriggerMonthlyReset) error {
	if p.Period == "" {
		return &ValidationError{Field: "period", Reason: "is required"}
	}
	s, err := aggregate.Load(ctx, h.repo, schedule.StreamID(p.Period), schedule.New)
	if err != nil {
		return err
	}
	if err := s.TriggerMonthlyReset(p.Period); err != nil {
		return err
	}
	return h.repo.Save(ctx, s, eventMetadata(cmd))
}

func (h *Handler) onAccount(ctx context.Context, cmd Command, accountID string, op func(*account.Account) error) error {
	if accountID == "" {
		return &ValidationError{Field: "account_id", Reason: "is required"}
	}
	a, err := aggregate.Load(ctx, h.repo, accountID, account.New)
	if err != nil {
		return err
	}
	if err := op(a); err != nil {
		return err
	}
	return h.repo.Save(ctx, a, eventMetadata(cmd))
}

// eventMetadata links the produced events to the command that caused them
func eventMetadata(cmd Command) map[string]string {
	md := make(map[string]string, len(cmd.Metadata)+2)
	for k, v := range cmd.Metadata {
		md[k] = v
	}
	md["command_id"] = cmd.ID
	md["command_type"] = cmd.Type
	return md
}
