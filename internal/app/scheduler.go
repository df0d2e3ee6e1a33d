package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/command"
	"github.com/example/credit-ledger/internal/domain/schedule"
)

// TriggerCurrentPeriod dispatches the monthly reset for the period of now.
// A period that was already triggered is not an error.
func TriggerCurrentPeriod(ctx context.Context, d command.Dispatcher, now time.Time) error {
	cmd := command.New(command.TriggerMonthlyReset{Period: schedule.Period(now)})
	err := command.DispatchWithRetry(ctx, d, cmd, command.DefaultRetryAttempts)
	if errors.Is(err, schedule.ErrAlreadyTriggered) {
		return nil
	}
	return err
}

// RunResetScheduler triggers the current period at start-up and then
// every interval until ctx is done. A non-positive interval disables it.
func RunResetScheduler(ctx context.Context, d command.Dispatcher, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	logger = logger.Named("reset_scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := TriggerCurrentPeriod(ctx, d, time.Now()); err != nil {
			logger.Error("failed to trigger monthly reset", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
