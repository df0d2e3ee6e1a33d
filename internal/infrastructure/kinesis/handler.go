package kinesis

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/infrastructure/store"
)

// EventHandler consumes one converted event
type EventHandler func(ctx context.Context, event store.Event) error

// BatchHandler returns a Lambda handler for Kinesis batches of event-store
// changes. Records that fail are reported as batch item failures so only
// they are retried.
func BatchHandler(handle EventHandler, logger *zap.Logger) func(context.Context, events.KinesisEvent) (events.KinesisEventResponse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kinesis")

	return func(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
		var failures []events.KinesisBatchItemFailure
		fail := func(record events.KinesisEventRecord, err error) {
			logger.Error("record failed",
				zap.String("record_id", record.EventID),
				zap.String("sequence_number", record.Kinesis.SequenceNumber),
				zap.Error(err),
			)
			failures = append(failures, events.KinesisBatchItemFailure{ItemIdentifier: record.Kinesis.SequenceNumber})
		}

		for _, record := range batch.Records {
			event, err := FromKinesisRecord(record)
			if err != nil {
				fail(record, err)
				continue
			}
			if event == nil {
				continue
			}
			if err := handle(ctx, *event); err != nil {
				fail(record, err)
			}
		}

		logger.Info("batch processed",
			zap.Int("records", len(batch.Records)),
			zap.Int("failed", len(failures)),
		)
		return events.KinesisEventResponse{BatchItemFailures: failures}, nil
	}
}
