package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	jsoncodec "github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// JSONMessageContext exposes the decoded request and its metadata to JSON handlers.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageOutput is the reply a JSON handler hands back. Metadata, when
// nil, falls back to the request metadata.
type JSONMessageOutput[T any] struct {
	Message  T
	Metadata metadatapkg.Metadata
}

// JSONMessageHandler processes a JSON request. A nil output means the
// exchange has no reply.
type JSONMessageHandler[T any, O any] func(ctx context.Context, event JSONMessageContext[T]) (*JSONMessageOutput[O], error)

// BuildJSONHandler converts a typed JSON handler into an invoke handler. T
// must be a pointer type so a fresh value can be decoded per message.
func BuildJSONHandler[T any, O any](handler JSONMessageHandler[T, O], logger loggingpkg.ServiceLogger) (unit.Handler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return unit.HandlerFunc(func(ctx context.Context, msg *exchange.Message) error {
		typed := prototypeFactory()
		if err := jsoncodec.Unmarshal(msg.Payload(), typed); err != nil {
			return decodeFault(fmt.Errorf("json: %w", err))
		}

		event := JSONMessageContext[T]{
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
		return writeJSONReply(msg, *out, event.Metadata)
	}), nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrConsumeMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}

func writeJSONReply[T any](msg *exchange.Message, out JSONMessageOutput[T], fallback metadatapkg.Metadata) error {
	if v := reflect.ValueOf(out.Message); !v.IsValid() || v.IsZero() {
		return errors.New("json handler emitted zero-value message")
	}

	payload, err := jsoncodec.Marshal(out.Message)
	if err != nil {
		return err
	}

	md := out.Metadata
	if md == nil {
		md = fallback
	}
	return writeReply(msg, payload, md, fmt.Sprintf("%T", out.Message))
}
