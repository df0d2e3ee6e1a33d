package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/credit-ledger/internal/infrastructure/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrHandlerNotFound          = errors.New("command handler not found")
	ErrHandlerAlreadyRegistered = errors.New("command handler already registered")
	ErrValidation               = errors.New("invalid command")
)

// ValidationError reports a malformed command envelope or payload
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid command: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Payload is implemented by every concrete command
type Payload interface {
	CommandType() string
}

// Command is the envelope dispatched through the bus
type Command struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   Payload           `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New wraps a payload in an envelope with a fresh id and timestamp
func New(payload Payload) Command {
	return Command{
		ID:        uuid.New().String(),
		Type:      payload.CommandType(),
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UTC(),
	}
}

// HandlerFunc executes one command
type HandlerFunc func(ctx context.Context, cmd Command) error

// Middleware wraps a handler. It decides whether and when next runs.
type Middleware func(next HandlerFunc) HandlerFunc

// Handle adapts a typed handler. A payload of the wrong type is a validation error.
func Handle[T Payload](fn func(ctx context.Context, cmd Command, payload T) error) HandlerFunc {
	return func(ctx context.Context, cmd Command) error {
		payload, ok := cmd.Payload.(T)
		if !ok {
			return &ValidationError{Field: "payload", Reason: fmt.Sprintf("has type %T", cmd.Payload)}
		}
		return fn(ctx, cmd, payload)
	}
}

// Dispatcher is what callers of the bus depend on
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// Bus routes each command type to exactly one handler
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerFunc
	middleware []Middleware
	logger     *zap.Logger
}

// NewBus creates a bus with the validation and error logging middlewares installed
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("command_bus")
	b := &Bus{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
	b.Use(Validation(), ErrorLogging(logger))
	return b
}

// Register binds the handler for a command type. A second registration
// fails and the first handler stays in place.
func (b *Bus) Register(commandType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[commandType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, commandType)
	}
	b.handlers[commandType] = handler
	return nil
}

// Use appends middlewares; they run in the order they were added
func (b *Bus) Use(mw ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw...)
}

// Dispatch runs the command through the middleware chain and its handler.
// Once started, the handler runs to completion even if ctx is cancelled.
func (b *Bus) Dispatch(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	handler, ok := b.handlers[cmd.Type]
	chain := append([]Middleware(nil), b.middleware...)
	b.mu.RUnlock()

	if !ok {
		commandType := cmd.Type
		handler = func(context.Context, Command) error {
			return fmt.Errorf("%w: %q", ErrHandlerNotFound, commandType)
		}
	}

	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler(context.WithoutCancel(ctx), cmd)
}

// DefaultRetryAttempts is the attempt budget callers use for conflict retry
const DefaultRetryAttempts = 3

// DispatchWithRetry re-dispatches cmd while it loses optimistic concurrency
// races, up to attempts times in total. The bus itself never retries.
func DispatchWithRetry(ctx context.Context, d Dispatcher, cmd Command, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = d.Dispatch(ctx, cmd); err == nil || !errors.Is(err, store.ErrConcurrencyConflict) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
