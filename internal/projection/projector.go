package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/domain/account"
	"github.com/example/credit-ledger/internal/eventbus"
	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/readmodel"
)

// ErrMalformedEvent marks events whose payload cannot be decoded
var ErrMalformedEvent = errors.New("malformed event")

// Projector maintains account balances and transaction history from
// account events. Every balance change, resets included, is a delta, so
// events of one account may be applied in any order. Deltas are not
// deduplicated; history rows are keyed by event id.
type Projector struct {
	readStore store.ReadStoreInterface
	logger    *zap.Logger
}

func NewProjector(readStore store.ReadStoreInterface, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{readStore: readStore, logger: logger.Named("projector")}
}

// EventTypes lists the events the projector consumes
var EventTypes = []string{
	account.EventCreditGranted,
	account.EventCreditWithdrawn,
	account.EventReversalProcessed,
	account.EventAccountReset,
}

// Register subscribes the projector to the bus
func (p *Projector) Register(bus *eventbus.Bus) {
	for _, eventType := range EventTypes {
		bus.Subscribe(eventType, p.Handle)
	}
}

// HandleMessage decodes a broker message and projects it. Malformed
// messages are logged and acknowledged since redelivery cannot fix them.
func (p *Projector) HandleMessage(ctx context.Context, key string, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		p.logger.Error("dropping undecodable message", zap.String("key", key), zap.Error(err))
		return nil
	}
	err := p.Handle(ctx, event)
	if errors.Is(err, ErrMalformedEvent) {
		p.logger.Error("dropping malformed event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.String("aggregate_id", event.AggregateID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func (p *Projector) Handle(ctx context.Context, event store.Event) error {
	if event.AggregateType != account.AggregateType {
		return nil
	}

	p.logger.Debug("projecting event",
		zap.String("event_type", event.EventType),
		zap.String("aggregate_id", event.AggregateID),
		zap.Int("version", event.Version),
	)

	switch event.EventType {
	case account.EventCreditGranted:
		var e account.CreditGranted
		if err := decode(event, &e); err != nil {
			return err
		}
		return p.move(ctx, event, readmodel.TransactionCredit, e.Amount, e.Amount)

	case account.EventCreditWithdrawn:
		var e account.CreditWithdrawn
		if err := decode(event, &e); err != nil {
			return err
		}
		return p.move(ctx, event, readmodel.TransactionWithdraw, -e.Amount, e.Amount)

	case account.EventReversalProcessed:
		var e account.ReversalProcessed
		if err := decode(event, &e); err != nil {
			return err
		}
		return p.move(ctx, event, readmodel.TransactionReversal, e.Amount, e.Amount)

	case account.EventAccountReset:
		var e account.AccountReset
		if err := decode(event, &e); err != nil {
			return err
		}
		return p.move(ctx, event, readmodel.TransactionReset, -e.PreviousBalance, e.PreviousBalance)
	}
	return nil
}

func decode(event store.Event, v any) error {
	if err := event.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func (p *Projector) move(ctx context.Context, event store.Event, txType string, delta, amount int64) error {
	if err := p.readStore.ApplyBalanceDelta(ctx, event.AggregateID, delta, event.Version, event.Timestamp); err != nil {
		return fmt.Errorf("applying %s to %s: %w", event.EventType, event.AggregateID, err)
	}
	return p.record(ctx, event, txType, amount)
}

func (p *Projector) record(ctx context.Context, event store.Event, txType string, amount int64) error {
	err := p.readStore.AppendTransaction(ctx, readmodel.Transaction{
		ID:        event.ID,
		AccountID: event.AggregateID,
		Type:      txType,
		Amount:    amount,
		Version:   event.Version,
		Timestamp: event.Timestamp,
		Metadata:  event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("recording %s for %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}

// Rebuild clears the read models and replays every stored event through
// the projector. It returns the number of events replayed.
func (p *Projector) Rebuild(ctx context.Context, events store.EventStoreInterface) (int, error) {
	if err := p.readStore.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clearing read models: %w", err)
	}

	all, err := events.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading events: %w", err)
	}

	for _, event := range all {
		if err := p.Handle(ctx, event); err != nil {
			return 0, fmt.Errorf("replaying event %s: %w", event.ID, err)
		}
	}
	p.logger.Info("read models rebuilt", zap.Int("events", len(all)))
	return len(all), nil
}
