package runtime

import (
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// EndpointOptions are the registration fields shared by the typed endpoint
// helpers.
type EndpointOptions struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Role         Role
	Features     []Feature
	Properties   map[string]any
	OneWay       bool
}

func (o EndpointOptions) registration(h unit.Handler) EndpointRegistration {
	return EndpointRegistration{
		Name:         o.Name,
		ConsumeQueue: o.ConsumeQueue,
		PublishQueue: o.PublishQueue,
		Role:         o.Role,
		Handler:      h,
		Features:     o.Features,
		Properties:   o.Properties,
		OneWay:       o.OneWay,
	}
}

// RegisterHandlerFunc registers a server endpoint around a plain unit
// handler. The handler writes its reply with exchange.EnsureOut.
func RegisterHandlerFunc(svc *Service, opts EndpointOptions, fn unit.HandlerFunc) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	return RegisterEndpoint(svc, opts.registration(fn))
}
