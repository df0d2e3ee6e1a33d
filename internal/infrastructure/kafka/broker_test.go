package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/domain/account"
	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/infrastructure/transport"
	"github.com/example/credit-ledger/internal/projection"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	queue     chan kafka.Message
	committed []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{queue: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestBroker(reader *fakeReader) (*Broker, *fakeWriter) {
	w := &fakeWriter{}
	b := NewBroker([]string{"localhost:9092"}, "projector", zap.NewNop())
	b.producer = &producer{writer: w}
	b.openReader = func([]string, string, string) messageReader { return reader }
	return b, w
}

// ============================================
// Publish Tests
// ============================================

func TestBroker_PublishKeysByAggregate(t *testing.T) {
	b, w := newTestBroker(newFakeReader())

	require.NoError(t, b.Publish(context.Background(), "ledger-events", "acc-1", []byte(`{"x":1}`)))

	require.Len(t, w.messages, 1)
	assert.Equal(t, "ledger-events", w.messages[0].Topic)
	assert.Equal(t, []byte("acc-1"), w.messages[0].Key)
	assert.JSONEq(t, `{"x":1}`, string(w.messages[0].Value))
}

func TestBroker_PublishAfterClose(t *testing.T) {
	b, w := newTestBroker(newFakeReader())

	require.NoError(t, b.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, b.Publish(context.Background(), "t", "k", nil), transport.ErrClosed)
}

// ============================================
// Subscribe Tests
// ============================================

func TestBroker_CommitsAfterSuccessfulHandling(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Key: []byte("a"), Value: []byte("1"), Offset: 10},
		kafka.Message{Key: []byte("b"), Value: []byte("2"), Offset: 11},
	)
	b, _ := newTestBroker(reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		keys []string
	)
	go func() {
		_ = b.Subscribe(ctx, "ledger-events", func(ctx context.Context, key string, message []byte) error {
			mu.Lock()
			defer mu.Unlock()
			keys = append(keys, key)
			return nil
		})
	}()

	assert.Eventually(t, func() bool { return len(reader.Committed()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{10, 11}, reader.Committed())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestBroker_RetriesBeforeCommitting(t *testing.T) {
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = 500 * time.Millisecond })

	reader := newFakeReader(kafka.Message{Key: []byte("a"), Value: []byte("1"), Offset: 3})
	b, _ := newTestBroker(reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		attempts int
	)
	go func() {
		_ = b.Subscribe(ctx, "ledger-events", func(ctx context.Context, key string, message []byte) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				assert.Empty(t, reader.Committed())
				return errors.New("read store unavailable")
			}
			return nil
		})
	}()

	assert.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestBroker_MalformedEventDoesNotBlockPartition(t *testing.T) {
	event, err := store.NewEvent("acc-1", account.AggregateType, account.EventCreditGranted, 1, account.CreditGranted{AccountID: "acc-1", Amount: 40})
	require.NoError(t, err)
	valid, err := json.Marshal(event)
	require.NoError(t, err)

	reader := newFakeReader(
		kafka.Message{Key: []byte("acc-1"), Value: []byte("not json"), Offset: 0},
		kafka.Message{Key: []byte("acc-1"), Value: valid, Offset: 1},
	)
	b, _ := newTestBroker(reader)
	readStore := store.NewReadStore()
	projector := projection.NewProjector(readStore, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Subscribe(ctx, "ledger-events", projector.HandleMessage) }()

	assert.Eventually(t, func() bool { return len(reader.Committed()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{0, 1}, reader.Committed())

	balance, ok, err := readStore.GetBalance(context.Background(), "acc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(40), balance.Balance)
}

func TestBroker_SubscribeStopsOnCancel(t *testing.T) {
	b, _ := newTestBroker(newFakeReader())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, "ledger-events", func(context.Context, string, []byte) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}
