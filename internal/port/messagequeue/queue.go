// Package messagequeue defines the port for message-bus transports that
// deliver Gateway-pushed events to this system.
package messagequeue

import "context"

// Handler processes one inbound message. The returned bytes are sent as
// the reply when the transport supports request/reply.
type Handler func(ctx context.Context, subject string, data []byte) ([]byte, error)

// Queue is a connected message-bus transport.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain processes pending messages and then closes the connection.
	Drain() error

	Close() error
	IsConnected() bool
}

// HeaderRequestID carries the request id across the bus.
const HeaderRequestID = "X-Request-ID"
