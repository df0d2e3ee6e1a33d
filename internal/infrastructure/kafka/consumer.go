package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/infrastructure/transport"
)

// messageReader is the subset of *kafka.Reader a subscription uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newReader(brokers []string, topic, groupID string) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
}

// retryBackoff is the pause before a failed message is handed back to the handler
var retryBackoff = 500 * time.Millisecond

// consume fetches, handles and commits. The offset only advances after the
// handler succeeds; a failing message is retried in place.
func consume(ctx context.Context, reader messageReader, handler transport.Handler, logger *zap.Logger) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return transport.ErrClosed
			}
			logger.Error("fetch message", zap.Error(err))
			continue
		}

		for {
			err := handler(ctx, string(msg.Key), msg.Value)
			if err == nil {
				break
			}
			logger.Warn("handle message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
