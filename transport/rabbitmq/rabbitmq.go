// Package rabbitmq provides a RabbitMQ/AMQP bus. Every relay instance binds
// its own non-durable queue to the fanout exchange, so each instance receives
// every inbound event.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/devicerelay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// ConnectionCloser releases a connection whose publisher or subscriber could
// not be created.
var ConnectionCloser = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// PubSubConfig returns the AMQP settings for one relay instance: a fanout
// exchange per topic and a non-durable queue suffixed with the instance id.
func PubSubConfig(url, instanceID string) amqp.Config {
	return amqp.NewNonDurablePubSubConfig(
		url,
		amqp.GenerateQueueNameTopicNameWithSuffix(instanceID),
	)
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("rabbitmq: URL is required")
	}

	amqpConfig := PubSubConfig(url, cfg.GetInstanceID())

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq: connect: %w", err)
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = ConnectionCloser(conn)
		return transport.Transport{}, fmt.Errorf("rabbitmq: publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		_ = ConnectionCloser(conn)
		return transport.Transport{}, fmt.Errorf("rabbitmq: subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
