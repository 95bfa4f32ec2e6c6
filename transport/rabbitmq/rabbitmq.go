// Package rabbitmq carries endpoint queues over RabbitMQ. Every consume and
// publish queue of an endpoint maps to a durable AMQP queue of the same name,
// so the instances of one service compete for requests while replies and the
// poison queue survive a broker restart.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/phaseflow/transport"
)

// TransportName selects this backend in pubsub_system.
const TransportName = "rabbitmq"

// ConnectionFactory dials the broker. Tests replace it.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory opens the side that writes reply and outgoing request queues.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory opens the side that drains endpoint consume queues.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register makes the backend selectable by name.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build dials once and hands the connection to both sides.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	queues := endpointQueues(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	pub, err := PublisherFactory(queues, logger, conn)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq: endpoint publisher: %w", err)
	}
	sub, err := SubscriberFactory(queues, logger, conn)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq: endpoint subscriber: %w", err)
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

// endpointQueues names each AMQP queue after the endpoint queue it carries.
func endpointQueues(url string) amqp.Config {
	queues := amqp.NewDurableQueueConfig(url)
	queues.Queue.GenerateName = amqp.GenerateQueueNameTopicName
	return queues
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
