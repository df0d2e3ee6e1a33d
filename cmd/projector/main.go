package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/app"
	"github.com/example/credit-ledger/internal/config"
	"github.com/example/credit-ledger/internal/projection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("projector stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Transport == config.TransportNone {
		return errors.New("the projector needs a transport; set TRANSPORT to kafka or redis")
	}

	readStore, closeReads, err := app.OpenReadStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeReads()

	projector := projection.NewProjector(readStore, logger)

	// an in-memory event log has nothing to replay into a shared read model
	if cfg.RebuildOnStart && cfg.StorageBackend != config.BackendMemory {
		stores, err := app.OpenStores(ctx, cfg, logger)
		if err != nil {
			return err
		}
		n, err := projector.Rebuild(ctx, stores.Events)
		stores.Close()
		if err != nil {
			return err
		}
		logger.Info("read models rebuilt", zap.Int("events", n))
	}

	broker, err := app.OpenBroker(ctx, cfg, cfg.KafkaConsumerGroup, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	logger.Info("projecting events",
		zap.String("transport", cfg.Transport),
		zap.String("channel", cfg.EventChannel),
		zap.String("group", cfg.KafkaConsumerGroup),
	)
	err = broker.Subscribe(ctx, cfg.EventChannel, projector.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}
