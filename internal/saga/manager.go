package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/eventbus"
	"github.com/example/credit-ledger/internal/infrastructure/store"
)

// Definition is one kind of saga: the event that starts it and the steps
// it runs. Run returns a result recorded in the saga data even on failure.
type Definition interface {
	Type() string
	Trigger() string
	Run(ctx context.Context, event store.Event) (result any, err error)
}

// Recorder receives saga outcomes
type Recorder interface {
	ObserveSaga(sagaType string, status Status)
}

// Manager starts sagas on their trigger events and tracks them to a
// terminal status. Step failures end the saga as FAILED; they are not
// returned to the event publisher and nothing is retried or compensated.
type Manager struct {
	store    Store
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Manager)

func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func NewManager(s Store, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  s,
		logger: logger.Named("saga_manager"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register subscribes every definition to its trigger event
func (m *Manager) Register(bus *eventbus.Bus, defs ...Definition) {
	for _, def := range defs {
		def := def
		bus.Subscribe(def.Trigger(), func(ctx context.Context, event store.Event) error {
			_, err := m.Start(ctx, def, event)
			return err
		})
	}
}

// record is the saga data layout
type record struct {
	Trigger json.RawMessage `json:"trigger"`
	EventID string          `json:"event_id"`
	Result  any             `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Start persists a STARTED saga for event, runs def and records the
// outcome. Only storage failures are returned.
func (m *Manager) Start(ctx context.Context, def Definition, event store.Event) (*Saga, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generating saga id: %w", err)
	}

	rec := record{Trigger: event.Data, EventID: event.ID}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	now := m.now()
	s := Saga{
		ID:        id,
		Type:      def.Type(),
		Status:    StatusStarted,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("creating %s saga: %w", def.Type(), err)
	}

	logger := m.logger.With(zap.String("saga_id", id), zap.String("saga_type", def.Type()))
	logger.Info("saga started", zap.String("event_id", event.ID))

	result, runErr := def.Run(ctx, event)
	rec.Result = result
	s.Status = StatusCompleted
	if runErr != nil {
		s.Status = StatusFailed
		rec.Error = runErr.Error()
	}

	if s.Data, err = json.Marshal(rec); err != nil {
		return nil, fmt.Errorf("encoding %s saga result: %w", def.Type(), err)
	}
	s.UpdatedAt = m.now()
	if err := m.store.Finish(ctx, id, s.Status, s.Data, s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("finishing %s saga %s: %w", def.Type(), id, err)
	}

	if runErr != nil {
		logger.Warn("saga failed", zap.Error(runErr))
	} else {
		logger.Info("saga completed")
	}
	if m.recorder != nil {
		m.recorder.ObserveSaga(def.Type(), s.Status)
	}
	return &s, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Saga, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, status Status) ([]Saga, error) {
	return m.store.List(ctx, status)
}
