package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by a broker after Close
var ErrClosed = errors.New("broker closed")

// Handler processes one delivered message. Returning an error leaves the
// message unacknowledged so the broker delivers it again.
type Handler func(ctx context.Context, key string, message []byte) error

// Broker is the message-transport collaborator. Delivery is at-least-once.
type Broker interface {
	// Publish sends message on channel. key groups related messages
	// (the aggregate id) so brokers that partition keep them in order.
	Publish(ctx context.Context, channel, key string, message []byte) error

	// Subscribe blocks, invoking handler for each message, until ctx is done
	Subscribe(ctx context.Context, channel string, handler Handler) error

	Close() error
}
