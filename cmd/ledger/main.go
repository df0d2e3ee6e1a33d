package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/app"
	"github.com/example/credit-ledger/internal/command"
	"github.com/example/credit-ledger/internal/config"
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
		logger.Fatal("ledger stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting credit ledger",
		zap.String("storage", cfg.StorageBackend),
		zap.String("transport", cfg.Transport),
		zap.String("event_channel", cfg.EventChannel),
		zap.String("command_channel", cfg.CommandChannel),
	)

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	broker, err := app.OpenBroker(ctx, cfg, "ledger", logger)
	if err != nil {
		return err
	}
	if broker != nil {
		defer broker.Close()
	}

	registry := prometheus.NewRegistry()
	ledger, err := app.NewLedger(cfg, stores, broker, registry, otel.Tracer("credit-ledger"), logger)
	if err != nil {
		return err
	}

	if ledger.LocalProjection && cfg.RebuildOnStart {
		n, err := ledger.Projector.Rebuild(ctx, stores.Events)
		if err != nil {
			return err
		}
		logger.Info("read models rebuilt", zap.Int("events", n))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.ServeMetrics(ctx, cfg.MetricsAddr, registry, logger)
	}()
	go func() {
		defer wg.Done()
		app.RunResetScheduler(ctx, ledger.Commands, cfg.ResetCheckInterval, logger)
	}()

	if broker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			intake := command.Intake(ledger.Commands, command.DefaultRetryAttempts, logger)
			err := broker.Subscribe(ctx, cfg.CommandChannel, intake)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("command intake stopped", zap.Error(err))
				cancel()
			}
		}()
		logger.Info("accepting commands", zap.String("channel", cfg.CommandChannel))
	}

	if ledger.Consumed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Consumed.Consume(ctx, broker, cfg.EventChannel)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("saga event consumer stopped", zap.Error(err))
				cancel()
			}
		}()
		logger.Info("running sagas from the event channel", zap.String("channel", cfg.EventChannel))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}
