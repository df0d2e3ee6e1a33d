package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/command"
	"github.com/example/credit-ledger/internal/config"
	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/example/credit-ledger/internal/eventbus"
	"github.com/example/credit-ledger/internal/infrastructure/transport"
	"github.com/example/credit-ledger/internal/metrics"
	"github.com/example/credit-ledger/internal/projection"
	"github.com/example/credit-ledger/internal/query"
	"github.com/example/credit-ledger/internal/saga"
	"github.com/example/credit-ledger/internal/snapshot"
)

// Ledger is the write side, read side and saga wiring of one process
type Ledger struct {
	Commands  *command.Bus
	Queries   *query.Bus
	Events    *eventbus.Bus
	Sagas     *saga.Manager
	Projector *projection.Projector
	Metrics   *metrics.Collectors

	// Consumed is set when sagas run off the event channel rather than
	// on in-process publishes; the caller feeds it with Consume
	Consumed *eventbus.Bus

	// LocalProjection is set when events are projected in-process
	LocalProjection bool
}

// NewLedger wires the buses over stores. broker may be nil; when set,
// every published event is also sent on the event channel. Events are
// projected in-process unless the read model is shared and a broker
// carries events to a projector process. In that shared setup sagas are
// registered on Consumed instead, so each event starts its sagas once
// across every ledger instance of the consumer group.
func NewLedger(cfg *config.Config, stores *Stores, broker transport.Broker, reg prometheus.Registerer, tracer trace.Tracer, logger *zap.Logger) (*Ledger, error) {
	collectors := metrics.NewCollectors(reg)

	var opts []eventbus.Option
	if broker != nil {
		opts = append(opts, eventbus.WithBroker(broker, cfg.EventChannel))
	}
	events := eventbus.NewBus(logger, opts...)
	events.Use(collectors.EventMiddleware(), eventbus.ErrorLogging(logger))

	snapshots := snapshot.NewManager(stores.Snapshots, cfg.SnapshotThreshold, cfg.SnapshotRetain, logger)
	repo := aggregate.NewRepository(stores.Events, snapshots, events, logger)

	commands := command.NewBus(logger)
	commands.Use(command.Tracing(tracer), command.Logging(logger), command.Metrics(collectors))
	if err := command.NewHandler(repo).Register(commands); err != nil {
		return nil, err
	}

	queries := query.NewBus(logger)
	queries.Use(query.Tracing(tracer), query.Logging(logger), query.Metrics(collectors))
	if err := query.NewHandler(stores.Reads).Register(queries); err != nil {
		return nil, err
	}

	l := &Ledger{
		Commands:        commands,
		Queries:         queries,
		Events:          events,
		Projector:       projection.NewProjector(stores.Reads, logger),
		Metrics:         collectors,
		LocalProjection: broker == nil || !stores.Shared,
	}
	if l.LocalProjection {
		l.Projector.Register(events)
	}

	sagaEvents := events
	if !l.LocalProjection {
		l.Consumed = eventbus.NewBus(logger)
		l.Consumed.Use(collectors.EventMiddleware(), eventbus.ErrorLogging(logger))
		sagaEvents = l.Consumed
	}

	l.Sagas = saga.NewManager(stores.Sagas, logger, saga.WithRecorder(collectors))
	l.Sagas.Register(sagaEvents,
		saga.NewReversal(commands),
		saga.NewMonthlyReset(commands, queries, cfg.ResetConcurrency),
	)
	return l, nil
}
