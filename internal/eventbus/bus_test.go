package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/infrastructure/transport"
)

func newTestEvent(t *testing.T, eventType string) store.Event {
	t.Helper()
	event, err := store.NewEvent("acc-1", "Account", eventType, 1, map[string]int{"amount": 10})
	require.NoError(t, err)
	return event
}

// ============================================
// Publish Tests
// ============================================

func TestBus_PublishInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error {
		order = append(order, "second")
		return nil
	})
	bus.Subscribe("CreditWithdrawn", func(ctx context.Context, e store.Event) error {
		order = append(order, "other")
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), newTestEvent(t, "CreditGranted")))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	assert.NoError(t, bus.Publish(context.Background(), newTestEvent(t, "Nobody")))
}

func TestBus_HandlerFailureDoesNotStopOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Use(ErrorLogging(zap.NewNop()))

	errFirst := errors.New("first failed")
	called := false
	bus.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error { return errFirst })
	bus.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error {
		called = true
		return nil
	})

	err := bus.Publish(context.Background(), newTestEvent(t, "CreditGranted"))
	assert.ErrorIs(t, err, errFirst)
	assert.True(t, called)
}

func TestBus_MiddlewareWrapsEachHandler(t *testing.T) {
	bus := NewBus(nil)

	var trace []string
	bus.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, e store.Event) error {
			trace = append(trace, "outer")
			return next(ctx, e)
		}
	}, func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, e store.Event) error {
			trace = append(trace, "inner")
			return next(ctx, e)
		}
	})
	bus.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error {
		trace = append(trace, "a")
		return nil
	})
	bus.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error {
		trace = append(trace, "b")
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), newTestEvent(t, "CreditGranted")))
	assert.Equal(t, []string{"outer", "inner", "a", "outer", "inner", "b"}, trace)
}

// ============================================
// Broker Tests
// ============================================

type recordingBroker struct {
	mu        sync.Mutex
	published []string
	keys      []string
	err       error
}

func (b *recordingBroker) Publish(ctx context.Context, channel, key string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, channel)
	b.keys = append(b.keys, key)
	return nil
}

func (b *recordingBroker) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *recordingBroker) Close() error { return nil }

func TestBus_RepublishesToBroker(t *testing.T) {
	broker := &recordingBroker{}
	bus := NewBus(nil, WithBroker(broker, "ledger-events"))

	require.NoError(t, bus.Publish(context.Background(), newTestEvent(t, "CreditGranted")))
	assert.Equal(t, []string{"ledger-events"}, broker.published)
	assert.Equal(t, []string{"acc-1"}, broker.keys)
}

func TestBus_BrokerFailureIsReported(t *testing.T) {
	brokerErr := errors.New("broker down")
	bus := NewBus(nil, WithBroker(&recordingBroker{err: brokerErr}, "ledger-events"))

	delivered := false
	bus.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error {
		delivered = true
		return nil
	})

	err := bus.Publish(context.Background(), newTestEvent(t, "CreditGranted"))
	assert.ErrorIs(t, err, brokerErr)
	assert.True(t, delivered)
}

func TestBus_ConsumeDeliversWithoutRepublishing(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	outbound := &recordingBroker{}
	consumer := NewBus(nil, WithBroker(outbound, "ledger-events"))

	received := make(chan store.Event, 1)
	consumer.Subscribe("CreditGranted", func(ctx context.Context, e store.Event) error {
		received <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = consumer.Consume(ctx, broker, "ledger-events") }()
	require.Eventually(t, func() bool { return broker.Subscribers("ledger-events") == 1 }, time.Second, 5*time.Millisecond)

	event := newTestEvent(t, "CreditGranted")
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, "ledger-events", event.AggregateID, []byte("not json")))
	require.NoError(t, broker.Publish(ctx, "ledger-events", event.AggregateID, data))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, event.Version, got.Version)
		assert.JSONEq(t, string(event.Data), string(got.Data))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, outbound.published)
}
