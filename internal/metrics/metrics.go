package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/credit-ledger/internal/command"
	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/example/credit-ledger/internal/eventbus"
	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/example/credit-ledger/internal/query"
	"github.com/example/credit-ledger/internal/saga"
)

var defaultBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// Collectors holds the ledger's Prometheus metrics. It implements the
// command, query and saga recorder interfaces.
type Collectors struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queries         *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	conflicts       prometheus.Counter
	sagas           *prometheus.CounterVec
	eventsDelivered *prometheus.CounterVec
}

func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commands_total",
			Help: "Commands dispatched by type and outcome",
		}, []string{"command_type", "outcome"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_command_duration_seconds",
			Help:    "Command handling latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"command_type"}),

		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_queries_total",
			Help: "Queries executed by type and outcome",
		}, []string{"query_type", "outcome"}),

		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"query_type"}),

		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_concurrency_conflicts_total",
			Help: "Commands that lost an optimistic concurrency race",
		}),

		sagas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sagas_total",
			Help: "Sagas finished by type and terminal status",
		}, []string{"saga_type", "status"}),

		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_delivered_total",
			Help: "Event handler invocations by event type and outcome",
		}, []string{"event_type", "outcome"}),
	}

	reg.MustRegister(
		c.commands, c.commandDuration,
		c.queries, c.queryDuration,
		c.conflicts, c.sagas, c.eventsDelivered,
	)
	return c
}

var (
	_ command.Recorder = (*Collectors)(nil)
	_ query.Recorder   = (*Collectors)(nil)
	_ saga.Recorder    = (*Collectors)(nil)
)

func (c *Collectors) ObserveCommand(commandType string, d time.Duration, err error) {
	c.commands.WithLabelValues(commandType, outcome(err)).Inc()
	c.commandDuration.WithLabelValues(commandType).Observe(d.Seconds())
	if errors.Is(err, store.ErrConcurrencyConflict) {
		c.conflicts.Inc()
	}
}

func (c *Collectors) ObserveQuery(queryType string, d time.Duration, err error) {
	c.queries.WithLabelValues(queryType, outcome(err)).Inc()
	c.queryDuration.WithLabelValues(queryType).Observe(d.Seconds())
}

func (c *Collectors) ObserveSaga(sagaType string, status saga.Status) {
	c.sagas.WithLabelValues(sagaType, string(status)).Inc()
}

// EventMiddleware counts every event handler invocation
func (c *Collectors) EventMiddleware() eventbus.Middleware {
	return func(next eventbus.HandlerFunc) eventbus.HandlerFunc {
		return func(ctx context.Context, event store.Event) error {
			err := next(ctx, event)
			c.eventsDelivered.WithLabelValues(event.EventType, outcome(err)).Inc()
			return err
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, aggregate.ErrDomain):
		return "domain_error"
	case errors.Is(err, command.ErrValidation), errors.Is(err, query.ErrValidation):
		return "invalid"
	case errors.Is(err, store.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, command.ErrHandlerNotFound), errors.Is(err, query.ErrHandlerNotFound):
		return "not_found"
	default:
		return "error"
	}
}
