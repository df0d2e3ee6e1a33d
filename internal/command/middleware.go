package command

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/domain/aggregate"
)

// Validation rejects envelopes without id, type or timestamp
func Validation() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd Command) error {
			switch {
			case cmd.ID == "":
				return &ValidationError{Field: "id", Reason: "is required"}
			case cmd.Type == "":
				return &ValidationError{Field: "type", Reason: "is required"}
			case cmd.Timestamp.IsZero():
				return &ValidationError{Field: "timestamp", Reason: "is required"}
			case cmd.Payload == nil:
				return &ValidationError{Field: "payload", Reason: "is required"}
			}
			return next(ctx, cmd)
		}
	}
}

// ErrorLogging logs failures and returns them unchanged. Commands refused
// by the domain or by validation are logged at info, everything else at error.
func ErrorLogging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd Command) error {
			err := next(ctx, cmd)
			if err == nil {
				return nil
			}
			fields := []zap.Field{
				zap.String("command_id", cmd.ID),
				zap.String("command_type", cmd.Type),
				zap.Error(err),
			}
			if errors.Is(err, aggregate.ErrDomain) || errors.Is(err, ErrValidation) {
				logger.Info("command rejected", fields...)
			} else {
				logger.Error("command failed", fields...)
			}
			return err
		}
	}
}

// Logging records every dispatch with its duration
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd Command) error {
			start := time.Now()
			err := next(ctx, cmd)
			logger.Info("command handled",
				zap.String("command_id", cmd.ID),
				zap.String("command_type", cmd.Type),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("ok", err == nil),
			)
			return err
		}
	}
}

// Recorder receives per-command outcomes, see metrics.Collectors
type Recorder interface {
	ObserveCommand(commandType string, d time.Duration, err error)
}

func Metrics(r Recorder) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd Command) error {
			start := time.Now()
			err := next(ctx, cmd)
			r.ObserveCommand(cmd.Type, time.Since(start), err)
			return err
		}
	}
}

// Tracing opens a span per command. A nil tracer uses the global provider.
func Tracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("github.com/example/credit-ledger/internal/command")
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd Command) error {
			ctx, span := tracer.Start(ctx, "command "+cmd.Type, trace.WithAttributes(
				attribute.String("command.id", cmd.ID),
				attribute.String("command.type", cmd.Type),
			))
			defer span.End()

			err := next(ctx, cmd)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
