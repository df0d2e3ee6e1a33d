package kinesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/example/credit-ledger/internal/infrastructure/store"
)

// errNotInsert marks stream records that do not carry a new event
var errNotInsert = errors.New("not an insert record")

// FromKinesisRecord converts a DynamoDB change record delivered through
// Kinesis into an event. Records other than INSERT yield (nil, nil).
func FromKinesisRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return FromStreamRecord(change)
}

// FromStreamRecord converts a DynamoDB Streams record into an event
func FromStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	event, err := fromImage(record.EventName, record.Change.NewImage)
	if errors.Is(err, errNotInsert) {
		return nil, nil
	}
	return event, err
}

// fromImage reads an item written by store.DynamoEventStore
func fromImage(eventName string, image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if eventName != "INSERT" {
		return nil, errNotInsert
	}
	if image == nil {
		return nil, errors.New("DynamoDB image is nil")
	}

	event := &store.Event{Metadata: map[string]string{}}
	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event.ID = str("id")
	event.AggregateID = str("aggregate_id")
	event.AggregateType = str("aggregate_type")
	event.EventType = str("event_type")
	event.Data = json.RawMessage(str("data"))

	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		event.Version = int(version)
	}
	if created := str("created_at"); created != "" {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		event.Timestamp = t
	}
	if v, ok := image["metadata"]; ok && v.DataType() == events.DataTypeMap {
		for k, mv := range v.Map() {
			if mv.DataType() == events.DataTypeString {
				event.Metadata[k] = mv.String()
			}
		}
	}

	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("missing required fields: id=%q, aggregate_id=%q, event_type=%q",
			event.ID, event.AggregateID, event.EventType)
	}
	return event, nil
}
