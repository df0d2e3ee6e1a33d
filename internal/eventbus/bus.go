package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/infrastructure/transport"
)

// HandlerFunc reacts to one event
type HandlerFunc func(ctx context.Context, event store.Event) error

// Middleware wraps every (event, handler) delivery
type Middleware func(next HandlerFunc) HandlerFunc

// Bus fans persisted events out to in-process subscribers and, when a
// broker is attached, to other processes.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string][]HandlerFunc
	middleware []Middleware
	broker     transport.Broker
	channel    string
	logger     *zap.Logger
}

type Option func(*Bus)

// WithBroker republishes every event on channel, keyed by aggregate id
func WithBroker(broker transport.Broker, channel string) Option {
	return func(b *Bus) {
		b.broker = broker
		b.channel = channel
	}
}

func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[string][]HandlerFunc),
		logger:   logger.Named("event_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe adds a handler for eventType. Any number of handlers may
// share a type; they run in the order they subscribed.
func (b *Bus) Subscribe(eventType string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *Bus) Use(mw ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw...)
}

// Publish delivers event to every local subscriber, then to the broker.
// Every handler runs even if an earlier one fails; the failures are
// joined. No subscriber is not an error.
func (b *Bus) Publish(ctx context.Context, event store.Event) error {
	err := b.deliver(ctx, event)

	if b.broker != nil {
		data, mErr := json.Marshal(event)
		if mErr != nil {
			return errors.Join(err, fmt.Errorf("encoding event %s: %w", event.ID, mErr))
		}
		if pErr := b.broker.Publish(ctx, b.channel, event.AggregateID, data); pErr != nil {
			err = errors.Join(err, fmt.Errorf("publishing event %s to %s: %w", event.ID, b.channel, pErr))
		}
	}
	return err
}

// Consume feeds events published by other processes on channel to the
// local subscribers. It blocks until ctx is done. Consumed events are
// never republished.
func (b *Bus) Consume(ctx context.Context, broker transport.Broker, channel string) error {
	return broker.Subscribe(ctx, channel, func(ctx context.Context, key string, message []byte) error {
		var event store.Event
		if err := json.Unmarshal(message, &event); err != nil {
			// Redelivery cannot fix a malformed message
			b.logger.Error("dropping undecodable message",
				zap.String("channel", channel),
				zap.String("key", key),
				zap.Error(err),
			)
			return nil
		}
		return b.deliver(ctx, event)
	})
}

func (b *Bus) deliver(ctx context.Context, event store.Event) error {
	b.mu.RLock()
	handlers := append([]HandlerFunc(nil), b.handlers[event.EventType]...)
	chain := append([]Middleware(nil), b.middleware...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrorLogging logs handler failures and returns them unchanged
func ErrorLogging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, event store.Event) error {
			err := next(ctx, event)
			if err != nil {
				logger.Error("event handler failed",
					zap.String("event_id", event.ID),
					zap.String("event_type", event.EventType),
					zap.String("aggregate_id", event.AggregateID),
					zap.Int("version", event.Version),
					zap.Error(err),
				)
			}
			return err
		}
	}
}
