// Package channel keeps endpoint queues in process memory. A client endpoint
// and the server endpoint it calls can share one service without a broker,
// and a parked client exchange is woken by the reply published on its
// consume queue.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/phaseflow/transport"
)

// TransportName selects this backend in pubsub_system.
const TransportName = "channel"

// DefaultOutputBuffer is the per-subscription buffer. A parked client
// exchange must not block the publisher of its own reply.
const DefaultOutputBuffer = 64

// Factory creates the in-memory queues. Tests replace it.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register makes the backend selectable by name.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns one pub/sub for both sides, so a publish queue written here
// is the consume queue read here.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: DefaultOutputBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
