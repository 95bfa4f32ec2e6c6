package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/transporttest"
)

func stubFactories(t *testing.T) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	assert.Equal(t, transport.HTTPCapabilities, transport.GetCapabilities(TransportName))
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestTopicURL(t *testing.T) {
	tests := []struct {
		base, topic, want string
	}{
		{base: "http://localhost:8080/", topic: "orders", want: "http://localhost:8080/orders"},
		{base: "http://localhost:8080", topic: "orders", want: "http://localhost:8080/orders"},
		{base: "http://peer/api/", topic: "orders.replies", want: "http://peer/api/orders.replies"},
	}
	for _, tt := range tests {
		got, err := topicURL(tt.base, tt.topic)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := topicURL("://bad", "orders")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	t.Run("marshals requests against the peer URL", func(t *testing.T) {
		stubFactories(t)
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			req, err := config.MarshalMessageFunc("orders", message.NewMessage("1", []byte("{}")))
			require.NoError(t, err)
			assert.Equal(t, "http://localhost:9090/orders", req.URL.String())
			return pub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, ":8080", addr)
			return sub, nil
		}

		tr, err := Build(context.Background(), &transporttest.Config{
			HTTPServerAddress: ":8080",
			HTTPPublisherURL:  "http://localhost:9090/",
		}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
	})

	t.Run("publisher error", func(t *testing.T) {
		stubFactories(t)
		PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber error", func(t *testing.T) {
		stubFactories(t)
		PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(string, watermillhttp.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
	})
}
