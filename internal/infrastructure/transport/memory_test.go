package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, b *MemoryBroker, channel string, handler Handler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Subscribe(ctx, channel, handler)
	}()
	require.Eventually(t, func() bool { return b.Subscribers(channel) > 0 }, time.Second, 5*time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	b := NewMemoryBroker(nil)

	var (
		mu   sync.Mutex
		got  []string
		keys []string
	)
	stop := subscribe(t, b, "events", func(ctx context.Context, key string, message []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(message))
		keys = append(keys, key)
		return nil
	})
	defer stop()

	require.NoError(t, b.Publish(context.Background(), "events", "acc-1", []byte("one")))
	require.NoError(t, b.Publish(context.Background(), "events", "acc-1", []byte("two")))
	require.NoError(t, b.Publish(context.Background(), "other", "acc-1", []byte("ignored")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, []string{"acc-1", "acc-1"}, keys)
}

func TestMemoryBroker_RedeliversFailedMessages(t *testing.T) {
	b := NewMemoryBroker(nil)

	var (
		mu       sync.Mutex
		attempts int
	)
	stop := subscribe(t, b, "events", func(ctx context.Context, key string, message []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("projection unavailable")
		}
		return nil
	})
	defer stop()

	require.NoError(t, b.Publish(context.Background(), "events", "k", []byte("m")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBroker_GivesUpAfterMaxDeliveries(t *testing.T) {
	b := NewMemoryBroker(nil)
	b.MaxDeliveries = 2

	var (
		mu       sync.Mutex
		attempts int
	)
	stop := subscribe(t, b, "events", func(ctx context.Context, key string, message []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("always fails")
	})
	defer stop()

	require.NoError(t, b.Publish(context.Background(), "events", "k", []byte("m")))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestMemoryBroker_Closed(t *testing.T) {
	b := NewMemoryBroker(nil)
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "events", "k", nil), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), "events", nil), ErrClosed)
}
