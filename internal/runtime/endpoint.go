package runtime

import (
	"fmt"
	"sort"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// Role decides which side of an exchange an endpoint plays.
type Role int

const (
	// RoleServer endpoints consume requests and publish responses.
	RoleServer Role = iota
	// RoleClient endpoints publish requests and consume the correlated
	// responses.
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// EndpointRegistration describes one endpoint bound to the service.
type EndpointRegistration struct {
	// Name identifies the endpoint in the phaseflow_endpoint header, in
	// traversal names and in the introspection API.
	Name string
	// ConsumeQueue is the topic requests arrive on for a server and the
	// reply topic for a client.
	ConsumeQueue string
	// PublishQueue is where a server sends responses without a reply
	// address and where a client sends requests.
	PublishQueue string
	Role         Role
	// Handler is invoked at the invoke phase. Servers require one; a client
	// handler sees each correlated response.
	Handler unit.Handler
	// Features are initialised for this endpoint only.
	Features []Feature
	// Properties are read-only defaults for contextual property lookups.
	Properties map[string]any
	// OneWay endpoints never send or wait for a response.
	OneWay bool
}

type endpoint struct {
	reg      EndpointRegistration
	provider *unit.Provider
	features []*unit.Provider
	stats    *EndpointStats
}

func (r EndpointRegistration) validate() error {
	if r.Name == "" {
		return errspkg.ErrEndpointRequired
	}
	switch r.Role {
	case RoleServer:
		if r.Handler == nil {
			return errspkg.ErrHandlerRequired
		}
		if r.ConsumeQueue == "" {
			return errspkg.ErrConsumeQueueRequired
		}
	case RoleClient:
		if r.PublishQueue == "" {
			return errspkg.ErrTopicRequired
		}
		if !r.OneWay && r.ConsumeQueue == "" {
			return errspkg.ErrConsumeQueueRequired
		}
	default:
		return fmt.Errorf("phaseflow: unknown endpoint role %d", int(r.Role))
	}
	return nil
}

// RegisterEndpoint binds an endpoint to the service router.
func RegisterEndpoint(svc *Service, cfg EndpointRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return svc.registerEndpoint(cfg)
}

func (s *Service) registerEndpoint(cfg EndpointRegistration) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if _, exists := s.endpoint(cfg.Name); exists {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateEndpoint, cfg.Name)
	}

	ep := &endpoint{
		reg:      cfg,
		provider: unit.NewProvider(cfg.Name, s.policy),
		stats:    newEndpointStats(s.errorClassifier),
	}
	if err := s.installEndpointUnits(ep); err != nil {
		return err
	}
	for _, f := range cfg.Features {
		p, err := s.initFeature(f)
		if err != nil {
			return fmt.Errorf("endpoint %s: feature %s: %w", cfg.Name, featureName(f), err)
		}
		ep.features = append(ep.features, p)
	}

	// assembling once up front reports ordering mistakes at registration
	for _, dir := range []phase.Direction{phase.Inbound, phase.Outbound} {
		if _, err := s.template(ep, dir); err != nil {
			return fmt.Errorf("endpoint %s: %w", cfg.Name, err)
		}
	}

	s.endpointsMu.Lock()
	if _, exists := s.endpoints[cfg.Name]; exists {
		s.endpointsMu.Unlock()
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateEndpoint, cfg.Name)
	}
	s.endpoints[cfg.Name] = ep
	s.endpointsMu.Unlock()

	if cfg.ConsumeQueue != "" {
		s.router.AddNoPublisherHandler(
			cfg.Name,
			cfg.ConsumeQueue,
			s.subscriber,
			s.consume(cfg.Name),
		)
	}

	s.Logger.Info("Registered endpoint", loggingpkg.LogFields{
		"endpoint":      cfg.Name,
		"role":          cfg.Role.String(),
		"consume_queue": cfg.ConsumeQueue,
		"publish_queue": cfg.PublishQueue,
	})
	return nil
}

// Endpoint returns the endpoint-level provider for name. Units added to it
// take part in that endpoint's traversals only.
func (s *Service) Endpoint(name string) (*unit.Provider, bool) {
	ep, ok := s.endpoint(name)
	if !ok {
		return nil, false
	}
	return ep.provider, true
}

// EndpointNames lists the registered endpoints in name order.
func (s *Service) EndpointNames() []string {
	s.endpointsMu.RLock()
	names := make([]string, 0, len(s.endpoints))
	for name := range s.endpoints {
		names = append(names, name)
	}
	s.endpointsMu.RUnlock()
	sort.Strings(names)
	return names
}

func (s *Service) endpoint(name string) (*endpoint, bool) {
	s.endpointsMu.RLock()
	defer s.endpointsMu.RUnlock()
	ep, ok := s.endpoints[name]
	return ep, ok
}

// consume adapts router deliveries to ObserveNewMessage. The queue binding
// names the endpoint. Handled faults ack the delivery; configuration errors,
// double faults and panics nack it.
func (s *Service) consume(name string) message.NoPublishHandlerFunc {
	return func(wm *message.Message) error {
		msg := fromWatermill(wm)
		msg.SetHeader(metadatapkg.KeyEndpoint, name)
		_, err := s.ObserveNewMessage(wm.Context(), msg)
		return err
	}
}

// providers lists every provider contributing to ep in assembly order.
func (s *Service) providers(ep *endpoint) []*unit.Provider {
	providers := []*unit.Provider{s.bus}
	providers = append(providers, s.featureProviders()...)
	providers = append(providers, ep.provider)
	providers = append(providers, ep.features...)
	return providers
}

// template returns the cached template for one direction of ep. Servers
// divert to the out-fault sequence over outbound phases, clients to the
// in-fault sequence over inbound phases.
func (s *Service) template(ep *endpoint, dir phase.Direction) (*chain.Template, error) {
	kind := unit.In
	if dir == phase.Outbound {
		kind = unit.Out
	}
	faultKind, faultReg := unit.OutFault, s.phases.Out
	if ep.reg.Role == RoleClient {
		faultKind, faultReg = unit.InFault, s.phases.In
	}

	providers := s.providers(ep)
	var units, faults []*unit.Unit
	versions := make([]uint64, 0, 2*len(providers))
	for _, p := range providers {
		u, v := p.Snapshot(kind)
		f, fv := p.Snapshot(faultKind)
		units = append(units, u...)
		faults = append(faults, f...)
		versions = append(versions, v, fv)
	}

	key := chain.TemplateKey(ep.reg.Name, dir.String(), versions...)
	return s.templates.GetOrBuild(key, func() (*chain.Template, error) {
		return chain.NewTemplate(s.phases.Registry(dir), units, faultReg, faults, s.policy)
	})
}

func (s *Service) newExchange(ep *endpoint) *exchange.Exchange {
	ex := exchange.New(ep.reg.Name, ep.reg.Properties)
	ex.SetOneWay(ep.reg.OneWay)
	if ep.reg.Role == RoleClient {
		ex.Put(exchange.PropRequestor, true)
	}
	return ex
}

func (s *Service) chainOptions(ep *endpoint, label string) chain.Options {
	return chain.Options{
		Name:          ep.reg.Name + "/" + label,
		Logger:        s.Logger.With(loggingpkg.LogFields{"endpoint": ep.reg.Name}),
		FaultListener: s.listener,
		Hooks:         s.currentHooks().Merge(s.featureHooks(ep)).Merge(ep.stats.Hooks()),
		Duplicates:    s.policy,
	}
}
