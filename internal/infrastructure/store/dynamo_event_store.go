package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxTransactItems is the DynamoDB limit for one TransactWriteItems call
const maxTransactItems = 100

// created_at is the GSI1 sort key, so it must sort lexicographically
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z"

// DynamoAPI is the subset of the DynamoDB client used by the stores
type DynamoAPI interface {
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoEventStore stores events in DynamoDB with aggregate_id as partition
// key and version as sort key. GSI1 (gsi1pk, created_at) serves global reads.
type DynamoEventStore struct {
	client    DynamoAPI
	tableName string
}

// dynamoEvent represents the DynamoDB item structure
type dynamoEvent struct {
	AggregateID   string            `dynamodbav:"aggregate_id"`
	Version       int               `dynamodbav:"version"`
	ID            string            `dynamodbav:"id"`
	AggregateType string            `dynamodbav:"aggregate_type"`
	EventType     string            `dynamodbav:"event_type"`
	Data          string            `dynamodbav:"data"`
	Metadata      map[string]string `dynamodbav:"metadata,omitempty"`
	CreatedAt     string            `dynamodbav:"created_at"`
	GSI1PK        string            `dynamodbav:"gsi1pk"`
}

const gsi1Events = "EVENTS"

func NewDynamoEventStore(client DynamoAPI, tableName string) *DynamoEventStore {
	return &DynamoEventStore{client: client, tableName: tableName}
}

// Append writes the batch with one TransactWriteItems call. Every item is
// conditional on its (aggregate_id, version) key being free.
func (es *DynamoEventStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := validateBatch(events); err != nil {
		return err
	}
	if len(events) > maxTransactItems {
		return fmt.Errorf("%w: batch of %d exceeds %d events", ErrInvalidEvent, len(events), maxTransactItems)
	}

	next := make(map[string]int)
	items := make([]types.TransactWriteItem, 0, len(events))
	for _, event := range events {
		expected, ok := next[event.AggregateID]
		if !ok {
			latest, err := es.LatestVersion(ctx, event.AggregateID)
			if err != nil {
				return err
			}
			expected = latest + 1
		}
		if err := checkVersion(event, expected); err != nil {
			return err
		}
		next[event.AggregateID] = expected + 1

		av, err := attributevalue.MarshalMap(toDynamoEvent(event))
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(es.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(version)"),
			},
		})
	}

	_, err := es.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if i, ok := conditionFailure(err); ok {
			e := events[0]
			if i >= 0 && i < len(events) {
				e = events[i]
			}
			return &ConcurrencyConflictError{AggregateID: e.AggregateID, Version: e.Version}
		}
		return fmt.Errorf("failed to write events: %w", err)
	}
	return nil
}

// conditionFailure reports whether err is a failed write condition and,
// when known, the index of the offending item.
func conditionFailure(err error) (int, bool) {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return i, true
			}
		}
		return -1, false
	}
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return -1, true
	}
	return -1, false
}

// LatestVersion queries the highest version of the aggregate
func (es *DynamoEventStore) LatestVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false), // Descending order
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("version"),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read latest version: %w", err)
	}
	if len(result.Items) == 0 {
		return 0, nil
	}

	var item struct {
		Version int `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, err
	}
	return item.Version, nil
}

// ReadStream returns the events for an aggregate from DynamoDB
func (es *DynamoEventStore) ReadStream(ctx context.Context, aggregateID string, opts ...StreamOption) ([]Event, error) {
	o := newStreamOptions(opts)
	return es.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND version BETWEEN :from AND :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid":  &types.AttributeValueMemberS{Value: aggregateID},
			":from": &types.AttributeValueMemberN{Value: strconv.Itoa(o.from)},
			":to":   &types.AttributeValueMemberN{Value: strconv.Itoa(o.upper())},
		},
		ScanIndexForward: aws.Bool(true), // Ascending order by version
	})
}

// ReadAll returns all events from DynamoDB using GSI1
func (es *DynamoEventStore) ReadAll(ctx context.Context) ([]Event, error) {
	events, err := es.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsi1Events},
		},
		ScanIndexForward: aws.Bool(true), // Ascending order by created_at
	})
	if err != nil {
		return nil, err
	}
	sortByTime(events)
	return events, nil
}

// ReadByType returns events of one type recorded at or after since
func (es *DynamoEventStore) ReadByType(ctx context.Context, eventType string, since time.Time) ([]Event, error) {
	events, err := es.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk AND created_at >= :since"),
		FilterExpression:       aws.String("event_type = :type"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: gsi1Events},
			":since": &types.AttributeValueMemberS{Value: since.UTC().Format(dynamoTimeLayout)},
			":type":  &types.AttributeValueMemberS{Value: eventType},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	sortByTime(events)
	return events, nil
}

// query follows LastEvaluatedKey until the result set is exhausted
func (es *DynamoEventStore) query(ctx context.Context, input *dynamodb.QueryInput) ([]Event, error) {
	var events []Event
	paginator := dynamodb.NewQueryPaginator(es.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		for _, item := range page.Items {
			var de dynamoEvent
			if err := attributevalue.UnmarshalMap(item, &de); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event: %w", err)
			}
			events = append(events, de.toEvent())
		}
	}
	return events, nil
}

func toDynamoEvent(e Event) dynamoEvent {
	return dynamoEvent{
		AggregateID:   e.AggregateID,
		Version:       e.Version,
		ID:            e.ID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Data:          string(e.Data),
		Metadata:      e.Metadata,
		CreatedAt:     e.Timestamp.UTC().Format(dynamoTimeLayout),
		GSI1PK:        gsi1Events,
	}
}

func (de dynamoEvent) toEvent() Event {
	timestamp, _ := time.Parse(dynamoTimeLayout, de.CreatedAt)
	return Event{
		ID:            de.ID,
		AggregateID:   de.AggregateID,
		AggregateType: de.AggregateType,
		EventType:     de.EventType,
		Version:       de.Version,
		Data:          json.RawMessage(de.Data),
		Metadata:      de.Metadata,
		Timestamp:     timestamp,
	}
}

// dynamoSnapshot represents the DynamoDB item structure for snapshots.
// The snapshots table has aggregate_id as partition key and version as sort key.
type dynamoSnapshot struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	Version       int    `dynamodbav:"version"`
	State         string `dynamodbav:"state"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// DynamoSnapshotStore keeps snapshot generations in their own table
type DynamoSnapshotStore struct {
	client    DynamoAPI
	tableName string
}

func NewDynamoSnapshotStore(client DynamoAPI, tableName string) *DynamoSnapshotStore {
	return &DynamoSnapshotStore{client: client, tableName: tableName}
}

// SaveSnapshot stores a snapshot unless a newer generation exists
func (s *DynamoSnapshotStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	latest, err := s.GetLatestSnapshot(ctx, snapshot.AggregateID)
	if err != nil {
		return err
	}
	if latest != nil && latest.Version > snapshot.Version {
		return nil
	}

	av, err := attributevalue.MarshalMap(dynamoSnapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         string(snapshot.State),
		CreatedAt:     snapshot.CreatedAt.UTC().Format(dynamoTimeLayout),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot retrieves the newest generation, nil if none exists
func (s *DynamoSnapshotStore) GetLatestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}

	var ds dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Items[0], &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	createdAt, _ := time.Parse(dynamoTimeLayout, ds.CreatedAt)

	return &Snapshot{
		AggregateID:   ds.AggregateID,
		AggregateType: ds.AggregateType,
		Version:       ds.Version,
		State:         json.RawMessage(ds.State),
		CreatedAt:     createdAt,
	}, nil
}

func (s *DynamoSnapshotStore) DeleteSnapshotsBeforeVersion(ctx context.Context, aggregateID string, version int) error {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND version < :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(version)},
		},
		ProjectionExpression: aws.String("aggregate_id, version"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, item := range page.Items {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"aggregate_id": item["aggregate_id"],
					"version":      item["version"],
				},
			})
			if err != nil {
				return fmt.Errorf("failed to delete snapshot: %w", err)
			}
		}
	}
	return nil
}
