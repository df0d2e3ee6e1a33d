package kafka

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/infrastructure/transport"
)

// Broker implements transport.Broker on Kafka topics. Channels map to
// topics; every Subscribe joins the configured consumer group.
type Broker struct {
	brokers  []string
	groupID  string
	producer *producer
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool

	// openReader is swapped in tests
	openReader func(brokers []string, topic, groupID string) messageReader
}

func NewBroker(brokers []string, groupID string, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		brokers:    brokers,
		groupID:    groupID,
		producer:   &producer{writer: newWriter(brokers)},
		logger:     logger.Named("kafka"),
		openReader: newReader,
	}
}

var _ transport.Broker = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, channel, key string, message []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	return b.producer.publish(ctx, channel, key, message)
}

func (b *Broker) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	b.mu.Unlock()

	reader := b.openReader(b.brokers, channel, b.groupID)

	b.logger.Info("subscribed", zap.String("topic", channel), zap.String("group", b.groupID))
	defer reader.Close()
	return consume(ctx, reader, handler, b.logger.With(zap.String("topic", channel)))
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.producer.close()
}
