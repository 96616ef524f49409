package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/devicerelay/internal/runtime/config"
	bus "github.com/drblury/devicerelay/transport"

	// Register the built-in buses.
	_ "github.com/drblury/devicerelay/transport/channel"
	_ "github.com/drblury/devicerelay/transport/nats"
	_ "github.com/drblury/devicerelay/transport/rabbitmq"
)

// Transport combines a publisher and subscriber pair produced by a factory,
// together with what the bus guarantees.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities bus.Capabilities
}

// Factory abstracts how the relay initialises its event bus.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in factory backed by the transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: bus.DefaultRegistry}
}

// RegistryFactory builds from a specific registry.
func RegistryFactory(reg *bus.Registry) Factory {
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *bus.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:    t.Publisher,
		Subscriber:   t.Subscriber,
		Capabilities: f.registry.GetCapabilities(conf.BusName()),
	}, nil
}
