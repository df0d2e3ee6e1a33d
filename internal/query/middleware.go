package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func Validation() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			switch {
			case q.ID == "":
				return nil, &ValidationError{Field: "id", Reason: "is required"}
			case q.Type == "":
				return nil, &ValidationError{Field: "type", Reason: "is required"}
			case q.Timestamp.IsZero():
				return nil, &ValidationError{Field: "timestamp", Reason: "is required"}
			}
			return next(ctx, q)
		}
	}
}

func ErrorLogging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			result, err := next(ctx, q)
			if err != nil {
				logger.Error("query failed",
					zap.String("query_id", q.ID),
					zap.String("query_type", q.Type),
					zap.Error(err),
				)
			}
			return result, err
		}
	}
}

func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			start := time.Now()
			result, err := next(ctx, q)
			logger.Debug("query executed",
				zap.String("query_id", q.ID),
				zap.String("query_type", q.Type),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("ok", err == nil),
			)
			return result, err
		}
	}
}

// Recorder receives per-query outcomes
type Recorder interface {
	ObserveQuery(queryType string, d time.Duration, err error)
}

func Metrics(r Recorder) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			start := time.Now()
			result, err := next(ctx, q)
			r.ObserveQuery(q.Type, time.Since(start), err)
			return result, err
		}
	}
}

func Tracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("github.com/example/credit-ledger/internal/query")
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			ctx, span := tracer.Start(ctx, "query "+q.Type, trace.WithAttributes(
				attribute.String("query.id", q.ID),
				attribute.String("query.type", q.Type),
			))
			defer span.End()

			result, err := next(ctx, q)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
	}
}
