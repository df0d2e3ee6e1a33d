package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxDeliveries bounds redelivery of a failing message in MemoryBroker
const DefaultMaxDeliveries = 3

type envelope struct {
	key        string
	message    []byte
	deliveries int
}

// MemoryBroker is an in-process Broker. Every subscriber of a channel gets
// every message; a failing message is redelivered until MaxDeliveries and
// then dropped with an error log.
type MemoryBroker struct {
	mu            sync.Mutex
	subscribers   map[string][]chan envelope
	closed        bool
	MaxDeliveries int
	logger        *zap.Logger
}

func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBroker{
		subscribers:   make(map[string][]chan envelope),
		MaxDeliveries: DefaultMaxDeliveries,
		logger:        logger.Named("memory_broker"),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel, key string, message []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := append([]chan envelope(nil), b.subscribers[channel]...)
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- envelope{key: key, message: append([]byte(nil), message...)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	queue := make(chan envelope, 256)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subscribers[channel] = append(b.subscribers[channel], queue)
	b.mu.Unlock()

	defer b.unsubscribe(channel, queue)

	var pending []envelope
	for {
		var next envelope
		if len(pending) > 0 {
			next, pending = pending[0], pending[1:]
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case next = <-queue:
			}
		}

		next.deliveries++
		if err := handler(ctx, next.key, next.message); err != nil {
			if next.deliveries < b.MaxDeliveries {
				pending = append(pending, next)
				continue
			}
			b.logger.Error("dropping message after repeated failures",
				zap.String("channel", channel),
				zap.String("key", next.key),
				zap.Int("deliveries", next.deliveries),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *MemoryBroker) unsubscribe(channel string, queue chan envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[channel]
	for i, s := range subs {
		if s == queue {
			b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of active subscriptions on channel
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[channel])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
