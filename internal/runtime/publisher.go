package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// Producer emits proto-based events onto the configured transport.
type Producer interface {
	PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error
}

// NewMessageFromProto converts event into a message carrying its protojson
// payload and schema header.
func NewMessageFromProto(event proto.Message, metadata metadatapkg.Metadata) (*exchange.Message, error) {
	if event == nil {
		return nil, errspkg.ErrPayloadRequired
	}

	payload, err := protoJSONMarshalOptions.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := exchange.NewMessage(payload)
	msg.SetHeaders(metadata)
	msg.SetHeader(metadatapkg.KeyEventSchema, protoSchema(event))
	return msg, nil
}

// PublishProto marshals the proto payload and publishes it to topic, outside
// of any traversal. Endpoint traffic should go through Dispatch instead.
func PublishProto(ctx context.Context, publisher message.Publisher, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := NewMessageFromProto(event, metadata)
	if err != nil {
		return err
	}

	wm := toWatermill(msg)
	if ctx != nil {
		wm.SetContext(ctx)
	}
	return publisher.Publish(topic, wm)
}

// PublishProto emits the event using the Service publisher.
func (s *Service) PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	msg, err := NewMessageFromProto(event, metadata)
	if err != nil {
		return err
	}
	return s.publish(ctx, topic, msg)
}

// DispatchProto sends event through the client endpoint name.
func (s *Service) DispatchProto(ctx context.Context, name string, event proto.Message, metadata metadatapkg.Metadata) (*Call, error) {
	if s == nil {
		return nil, errspkg.ErrServiceRequired
	}
	msg, err := NewMessageFromProto(event, metadata)
	if err != nil {
		return nil, err
	}
	return s.Dispatch(ctx, name, msg.Payload(), msg.Headers())
}

// DispatchJSON encodes payload as JSON and sends it through the client
// endpoint name.
func (s *Service) DispatchJSON(ctx context.Context, name string, payload any, metadata metadatapkg.Metadata) (*Call, error) {
	if s == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if payload == nil {
		return nil, errspkg.ErrPayloadRequired
	}
	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	md := metadata.Clone()
	if md.Get(metadatapkg.KeyEventSchema) == "" {
		md[metadatapkg.KeyEventSchema] = fmt.Sprintf("%T", payload)
	}
	return s.Dispatch(ctx, name, body, md)
}

// DecodeJSON unmarshals the payload of a call response into out.
func DecodeJSON(msg *exchange.Message, out any) error {
	if msg == nil {
		return errors.New("phaseflow: no response message")
	}
	return jsoncodec.Unmarshal(msg.Payload(), out)
}
