package transport

// Capabilities describes the delivery properties of a bus backend.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsOrdering indicates messages from one publisher arrive in publish order.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// CrossInstance indicates every relay instance subscribed to the bus sees
	// every published event, so rosters and fan-out span processes.
	CrossInstance bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can travel over the transport.
func (c Capabilities) Fits(size int64) bool {
	return c.MaxMessageSize <= 0 || size <= c.MaxMessageSize
}

var (
	// ChannelCapabilities for the in-process gochannel bus.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATSCapabilities for core NATS. JetStream is never enabled because
	// relay traffic is not persisted.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: true,
		CrossInstance:    true,
		MaxMessageSize:   1048576, // server default 1MB
	}

	// RabbitMQCapabilities for non-durable AMQP fanout.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		CrossInstance:    true,
		MaxMessageSize:   134217728,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Returns a Capabilities value carrying only the name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
