package command

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/example/credit-ledger/internal/infrastructure/transport"
)

// Intake returns a broker handler that decodes and dispatches commands.
// Rejected commands (malformed, unknown, or refused by the domain) are
// logged and acknowledged; only infrastructure failures are returned so
// the broker redelivers them. Conflicts are retried up to attempts times.
func Intake(d Dispatcher, attempts int, logger *zap.Logger) transport.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("command_intake")

	return func(ctx context.Context, key string, message []byte) error {
		cmd, err := Decode(message)
		if err != nil {
			logger.Warn("rejecting command message", zap.String("key", key), zap.Error(err))
			return nil
		}

		err = DispatchWithRetry(ctx, d, cmd, attempts)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, aggregate.ErrPublish):
			// persisted; redelivery would apply the command twice
			logger.Error("command persisted but not fully published",
				zap.String("command_id", cmd.ID),
				zap.String("command_type", cmd.Type),
				zap.Error(err),
			)
			return nil
		case errors.Is(err, aggregate.ErrDomain),
			errors.Is(err, ErrValidation),
			errors.Is(err, ErrHandlerNotFound):
			logger.Info("command rejected",
				zap.String("command_id", cmd.ID),
				zap.String("command_type", cmd.Type),
				zap.Error(err),
			)
			return nil
		}
		return err
	}
}
