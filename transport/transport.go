// Package transport defines the event bus abstraction used by the relay.
// Each bus implementation (channel, nats, rabbitmq) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves, publisher first. Shared pub/sub values are closed once.
func (t Transport) Close() error {
	var firstErr error
	if t.Publisher != nil {
		firstErr = t.Publisher.Close()
	}
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		if err := t.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by bus transports without
// depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// GetInstanceID identifies this relay process. Broker transports derive
	// per-instance queue and connection names from it.
	GetInstanceID() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
