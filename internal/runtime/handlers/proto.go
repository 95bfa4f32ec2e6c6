package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// ProtoMessageContext provides strongly typed access to the incoming message payload.
type ProtoMessageContext[T proto.Message] struct {
	MessageContextBase
	Payload T
}

// ProtoMessageOutput describes the reply emitted after the handler succeeds.
type ProtoMessageOutput struct {
	Message  proto.Message
	Metadata metadatapkg.Metadata
}

// ProtoMessageHandler processes a typed protobuf payload. A nil output means
// the exchange has no reply.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, event ProtoMessageContext[T]) (*ProtoMessageOutput, error)

// BuildProtoHandler converts the typed handler into an invoke handler. When
// validate is set every reply is checked before it is written.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T], validate func(proto.Message) error, logger loggingpkg.ServiceLogger) (unit.Handler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if isNilProto(prototype) {
		return nil, errspkg.ErrConsumeMessageTypeRequired
	}

	return unit.HandlerFunc(func(ctx context.Context, msg *exchange.Message) error {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return err
		}

		if err := protojson.Unmarshal(msg.Payload(), typed); err != nil {
			return decodeFault(fmt.Errorf("%T: %w", prototype, err))
		}

		event := ProtoMessageContext[T]{
			MessageContextBase: newBase(msg, logger),
			Payload:            typed,
		}

		out, err := handler(ctx, event)
		if err != nil {
			return handlerFault(err)
		}
		if out == nil {
			return nil
		}
		if out.Message == nil {
			return errors.New("proto handler emitted nil message")
		}
		if validate != nil {
			if err := validate(out.Message); err != nil {
				return err
			}
		}

		payload, err := protojson.Marshal(out.Message)
		if err != nil {
			return err
		}
		md := out.Metadata
		if md == nil {
			md = event.Metadata
		}
		return writeReply(msg, payload, md, string(out.Message.ProtoReflect().Descriptor().FullName()))
	}), nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrConsumeMessageTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a fresh zero message of its type
// when candidate is a typed nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrConsumeMessagePointerNeeded
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
