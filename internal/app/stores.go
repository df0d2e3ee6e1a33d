package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/config"
	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/saga"
)

// Stores groups the storage collaborators of one process
type Stores struct {
	Events    store.EventStoreInterface
	Snapshots store.SnapshotStore
	Reads     store.ReadStoreInterface
	Sagas     saga.Store

	// Shared reports whether the read model lives outside this process,
	// so another process may keep it up to date.
	Shared bool

	db *sql.DB
}

// OpenStores builds the stores for the configured backend. The dynamodb
// backend keeps events and snapshots in DynamoDB and puts read models and
// sagas in Postgres when DATABASE_URL is set, in memory otherwise.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	s := &Stores{}

	if cfg.StorageBackend == config.BackendPostgres ||
		(cfg.StorageBackend == config.BackendDynamoDB && cfg.DatabaseURL != "") {
		db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := store.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to postgres")
		s.db = db
		s.Reads = store.NewPostgresReadStore(db)
		s.Sagas = saga.NewPostgresStore(db)
		s.Shared = true
	} else {
		s.Reads = store.NewReadStore()
		s.Sagas = saga.NewMemoryStore()
	}

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		s.Events = store.NewPostgresEventStore(s.db)
		s.Snapshots = store.NewPostgresSnapshotStore(s.db)
	case config.BackendDynamoDB:
		client, err := newDynamoClient(ctx, cfg.DynamoEndpoint)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Events = store.NewDynamoEventStore(client, cfg.DynamoEventsTable)
		s.Snapshots = store.NewDynamoSnapshotStore(client, cfg.DynamoSnapshotsTable)
		logger.Info("using dynamodb event store",
			zap.String("events_table", cfg.DynamoEventsTable),
			zap.String("snapshots_table", cfg.DynamoSnapshotsTable),
		)
	case config.BackendMemory:
		s.Events = store.NewEventStore()
		s.Snapshots = store.NewMemorySnapshotStore()
		logger.Warn("using in-memory storage; state is lost on exit")
	default:
		s.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	return s, nil
}

// OpenReadStore builds only the read store, for processes that project
func OpenReadStore(ctx context.Context, cfg *config.Config) (store.ReadStoreInterface, func() error, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required for the read store")
	}
	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store.NewPostgresReadStore(db), db.Close, nil
}

func newDynamoClient(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
