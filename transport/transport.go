// Package transport maps endpoint queues onto a broker. A service subscribes
// to the consume queue of every endpoint, publishes replies and client
// requests to publish queues, and moves exhausted deliveries to the poison
// queue, all through the one pair a backend builds. Backends live in
// sub-packages and register under their pubsub_system name.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is the pair every endpoint of a service shares. Subscriber
// drains consume queues; Publisher writes publish and poison queues.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder connects a backend. It runs once per service start.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the broker section of the service configuration. A backend
// reads its own keys and ignores the rest.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetNATSClientName() string
	GetNATSJetStream() bool

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider reports the limits an endpoint queue inherits from its
// backend, such as the largest payload it may publish.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
