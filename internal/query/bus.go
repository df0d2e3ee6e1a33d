package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrHandlerNotFound          = errors.New("query handler not found")
	ErrHandlerAlreadyRegistered = errors.New("query handler already registered")
	ErrValidation               = errors.New("invalid query")
)

// ValidationError reports a malformed query envelope or parameters
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Params is implemented by every concrete query
type Params interface {
	QueryType() string
}

// Query is the envelope executed through the bus
type Query struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Params    Params            `json:"params"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func New(params Params) Query {
	return Query{
		ID:        uuid.New().String(),
		Type:      params.QueryType(),
		Params:    params,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UTC(),
	}
}

type HandlerFunc func(ctx context.Context, q Query) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Handle adapts a typed handler
func Handle[P Params, R any](fn func(ctx context.Context, q Query, params P) (R, error)) HandlerFunc {
	return func(ctx context.Context, q Query) (any, error) {
		params, ok := q.Params.(P)
		if !ok {
			return nil, &ValidationError{Field: "params", Reason: fmt.Sprintf("has type %T", q.Params)}
		}
		return fn(ctx, q, params)
	}
}

// Executor is what callers of the bus depend on
type Executor interface {
	Execute(ctx context.Context, q Query) (any, error)
}

// Execute runs q and asserts the result type
func Execute[R any](ctx context.Context, e Executor, q Query) (R, error) {
	var zero R
	result, err := e.Execute(ctx, q)
	if err != nil {
		return zero, err
	}
	typed, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("query %s returned %T, want %T", q.Type, result, zero)
	}
	return typed, nil
}

// Bus routes each query type to exactly one handler
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerFunc
	middleware []Middleware
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{handlers: make(map[string]HandlerFunc)}
	b.Use(Validation(), ErrorLogging(logger.Named("query_bus")))
	return b
}

// Register binds the handler for a query type. A second registration
// fails and the first handler stays in place.
func (b *Bus) Register(queryType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[queryType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, queryType)
	}
	b.handlers[queryType] = handler
	return nil
}

func (b *Bus) Use(mw ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw...)
}

func (b *Bus) Execute(ctx context.Context, q Query) (any, error) {
	b.mu.RLock()
	handler, ok := b.handlers[q.Type]
	chain := append([]Middleware(nil), b.middleware...)
	b.mu.RUnlock()

	if !ok {
		queryType := q.Type
		handler = func(context.Context, Query) (any, error) {
			return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, queryType)
		}
	}

	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler(context.WithoutCancel(ctx), q)
}
