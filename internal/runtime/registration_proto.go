package runtime

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/phaseflow/internal/runtime/handlers"
)

// ProtoEndpointRegistration binds a typed protobuf handler to an endpoint.
type ProtoEndpointRegistration[T proto.Message] struct {
	EndpointOptions
	Handler handlerpkg.ProtoMessageHandler[T]
	// ValidateOutgoing runs the service validator over every reply.
	ValidateOutgoing bool
	// AdditionalPublishTypes are made known to the validation feature.
	AdditionalPublishTypes []proto.Message
}

// RegisterProtoEndpoint converts the typed handler into the endpoint's invoke
// handler. The consumed type is registered for validation.
func RegisterProtoEndpoint[T proto.Message](svc *Service, cfg ProtoEndpointRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	var zero T
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return err
	}

	var validate func(proto.Message) error
	if cfg.ValidateOutgoing && svc.validator != nil {
		validate = func(msg proto.Message) error {
			return svc.validator.Validate(msg)
		}
	}

	wrapped, err := handlerpkg.BuildProtoHandler(prototype, cfg.Handler, validate, svc.Logger)
	if err != nil {
		return err
	}

	reg := cfg.registration(wrapped)
	if reg.Name == "" {
		reg.Name = fmt.Sprintf("%T-Handler", prototype)
	}
	if err := svc.registerEndpoint(reg); err != nil {
		return err
	}

	svc.registerProtoType(prototype)
	for _, emitted := range cfg.AdditionalPublishTypes {
		if emitted != nil {
			svc.registerProtoType(emitted)
		}
	}
	return nil
}
