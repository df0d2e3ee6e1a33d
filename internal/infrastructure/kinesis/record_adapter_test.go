package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/credit-ledger/internal/infrastructure/store"
)

func eventImage() map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"id":             events.NewStringAttribute("event-123"),
		"aggregate_id":   events.NewStringAttribute("acc-456"),
		"aggregate_type": events.NewStringAttribute("Account"),
		"event_type":     events.NewStringAttribute("CreditGranted"),
		"data":           events.NewStringAttribute(`{"amount":100}`),
		"created_at":     events.NewStringAttribute("2026-10-15T10:30:00.123456789Z"),
		"version":        events.NewNumberAttribute("3"),
		"metadata": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"command_id": events.NewStringAttribute("cmd-1"),
		}),
		"gsi1pk": events.NewStringAttribute("EVENTS"),
	}
}

func kinesisRecord(t *testing.T, seq, eventName string, image map[string]events.DynamoDBAttributeValue) events.KinesisEventRecord {
	t.Helper()
	data, err := json.Marshal(events.DynamoDBEventRecord{
		EventName: eventName,
		Change:    events.DynamoDBStreamRecord{NewImage: image},
	})
	require.NoError(t, err)
	return events.KinesisEventRecord{
		EventID: "shard-0:" + seq,
		Kinesis: events.KinesisRecord{Data: data, SequenceNumber: seq},
	}
}

// ============================================
// Conversion Tests
// ============================================

func TestFromImage(t *testing.T) {
	tests := []struct {
		name    string
		image   map[string]events.DynamoDBAttributeValue
		wantErr bool
	}{
		{name: "valid event", image: eventImage()},
		{name: "nil image", image: nil, wantErr: true},
		{
			name:    "missing required fields",
			image:   map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("event-123")},
			wantErr: true,
		},
		{
			name: "bad timestamp",
			image: func() map[string]events.DynamoDBAttributeValue {
				img := eventImage()
				img["created_at"] = events.NewStringAttribute("yesterday")
				return img
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := fromImage("INSERT", tt.image)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "event-123", event.ID)
			assert.Equal(t, "acc-456", event.AggregateID)
			assert.Equal(t, "Account", event.AggregateType)
			assert.Equal(t, "CreditGranted", event.EventType)
			assert.Equal(t, 3, event.Version)
			assert.JSONEq(t, `{"amount":100}`, string(event.Data))
			assert.Equal(t, "cmd-1", event.Metadata["command_id"])
			assert.Equal(t, time.Date(2026, 10, 15, 10, 30, 0, 123456789, time.UTC), event.Timestamp)
		})
	}
}

func TestFromStreamRecord_SkipsNonInserts(t *testing.T) {
	for _, name := range []string{"MODIFY", "REMOVE"} {
		event, err := FromStreamRecord(events.DynamoDBEventRecord{
			EventName: name,
			Change:    events.DynamoDBStreamRecord{NewImage: eventImage()},
		})
		assert.NoError(t, err)
		assert.Nil(t, event)
	}
}

func TestFromKinesisRecord(t *testing.T) {
	event, err := FromKinesisRecord(kinesisRecord(t, "1", "INSERT", eventImage()))
	require.NoError(t, err)
	assert.Equal(t, "event-123", event.ID)

	_, err = FromKinesisRecord(events.KinesisEventRecord{Kinesis: events.KinesisRecord{Data: []byte("nope")}})
	assert.Error(t, err)
}

// ============================================
// Batch Handler Tests
// ============================================

func TestBatchHandler_ReportsOnlyFailedRecords(t *testing.T) {
	poison := eventImage()
	poison["id"] = events.NewStringAttribute("event-poison")

	var handled []string
	handler := BatchHandler(func(ctx context.Context, e store.Event) error {
		if e.ID == "event-poison" {
			return errors.New("read store rejected event")
		}
		handled = append(handled, e.ID)
		return nil
	}, nil)

	resp, err := handler(context.Background(), events.KinesisEvent{Records: []events.KinesisEventRecord{
		kinesisRecord(t, "1", "INSERT", eventImage()),
		kinesisRecord(t, "2", "MODIFY", eventImage()),
		kinesisRecord(t, "3", "INSERT", poison),
		kinesisRecord(t, "4", "INSERT", map[string]events.DynamoDBAttributeValue{}),
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"event-123"}, handled)
	require.Len(t, resp.BatchItemFailures, 2)
	assert.Equal(t, "3", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, "4", resp.BatchItemFailures[1].ItemIdentifier)
}
