package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/config"
	"github.com/example/credit-ledger/internal/infrastructure/kafka"
	"github.com/example/credit-ledger/internal/infrastructure/redis"
	"github.com/example/credit-ledger/internal/infrastructure/transport"
)

// OpenBroker connects the configured transport. It returns nil for
// TRANSPORT=none. group names the consumer group of this process.
func OpenBroker(ctx context.Context, cfg *config.Config, group string, logger *zap.Logger) (transport.Broker, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		logger.Info("using kafka transport", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("group", group))
		return kafka.NewBroker(cfg.KafkaBrokers, group, logger), nil
	case config.TransportRedis:
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis streams transport", zap.String("group", group))
		return redis.NewBroker(client, group, logger), nil
	case config.TransportNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
