package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/infrastructure/transport"
)

const (
	fieldKey  = "key"
	fieldData = "data"
)

var (
	// blockFor bounds one XREADGROUP wait so cancellation is noticed
	blockFor = 200 * time.Millisecond
	// retryBackoff is the pause before pending entries are re-read after a failure
	retryBackoff = 500 * time.Millisecond
)

// Broker implements transport.Broker on Redis Streams. A channel is a
// stream; subscribers share a consumer group and each entry is XACKed
// only after its handler succeeds.
type Broker struct {
	client *redis.Client
	group  string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func NewBroker(client *redis.Client, group string, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{client: client, group: group, logger: logger.Named("redis")}
}

var _ transport.Broker = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, channel, key string, message []byte) error {
	if b.isClosed() {
		return transport.ErrClosed
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: channel,
		Values: map[string]any{fieldKey: key, fieldData: message},
	}).Err()
}

func (b *Broker) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	if b.isClosed() {
		return transport.ErrClosed
	}
	if err := b.ensureGroup(ctx, channel); err != nil {
		return err
	}

	consumer := b.group + "-" + uuid.NewString()
	logger := b.logger.With(zap.String("stream", channel), zap.String("consumer", consumer))
	logger.Info("subscribed", zap.String("group", b.group))

	// "0" re-reads this consumer's unacknowledged entries, ">" asks for new ones
	cursor := "0"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		args := &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{channel, cursor},
			Count:    10,
			Block:    -1,
		}
		if cursor == ">" {
			args.Block = blockFor
		}

		streams, err := b.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return transport.ErrClosed
			}
			logger.Error("read stream", zap.Error(err))
			sleep(ctx, retryBackoff)
			continue
		}

		delivered, failed := 0, false
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				delivered++
				if err := b.handle(ctx, channel, msg, handler); err != nil {
					logger.Warn("handle message", zap.String("id", msg.ID), zap.Error(err))
					failed = true
				}
			}
		}

		switch {
		case failed:
			cursor = "0"
			sleep(ctx, retryBackoff)
		case delivered == 0:
			cursor = ">"
		}
	}
}

func (b *Broker) handle(ctx context.Context, channel string, msg redis.XMessage, handler transport.Handler) error {
	key, _ := msg.Values[fieldKey].(string)
	data, _ := msg.Values[fieldData].(string)
	if err := handler(ctx, key, []byte(data)); err != nil {
		return err
	}
	return b.client.XAck(ctx, channel, b.group, msg.ID).Err()
}

func (b *Broker) ensureGroup(ctx context.Context, channel string) error {
	err := b.client.XGroupCreateMkStream(ctx, channel, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", b.group, channel, err)
	}
	return nil
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
