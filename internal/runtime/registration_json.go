package runtime

import (
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/phaseflow/internal/runtime/handlers"
)

// JSONEndpointRegistration binds a typed JSON handler to an endpoint.
type JSONEndpointRegistration[T any, O any] struct {
	EndpointOptions
	Handler handlerpkg.JSONMessageHandler[T, O]
}

// RegisterJSONEndpoint decodes each request into T, runs the handler and
// encodes its O reply as the outbound message.
func RegisterJSONEndpoint[T any, O any](svc *Service, cfg JSONEndpointRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONHandler(cfg.Handler, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerEndpoint(cfg.registration(wrapped))
}
