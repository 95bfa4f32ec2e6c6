package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
	transportpkg "github.com/drblury/phaseflow/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ProtoValidator validates unmarshalled payloads. Implementations typically
// forward to protovalidate or a custom struct validator.
type ProtoValidator interface {
	Validate(value any) error
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to fall back to the defaults.
type ServiceDependencies struct {
	Validator              ProtoValidator
	Features               []Feature // Initialised after the default features.
	DisableDefaultFeatures bool      // Skips the default features when true.
	TransportBuilder       transportpkg.Builder
	Hooks                  chain.Hooks
	FaultListener          chain.FaultListener
	Phases                 *phase.Manager
	ErrorClassifier        ErrorClassifier
	// MetricsRegisterer defaults to the Prometheus default registerer.
	MetricsRegisterer prometheus.Registerer
}

// Service binds endpoints to a Watermill router and runs every message they
// receive through phase-ordered traversals.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	capabilities transportpkg.Capabilities

	phases    *phase.Manager
	policy    unit.DuplicatePolicy
	bus       *unit.Provider
	templates *chain.TemplateCache

	features   []*unit.Provider
	scoped     map[*unit.Provider]chain.Hooks
	featuresMu sync.RWMutex

	endpoints   map[string]*endpoint
	endpointsMu sync.RWMutex

	parked *correlationStore

	hooks    chain.Hooks
	hooksMu  sync.RWMutex
	listener chain.FaultListener
	metrics  *ChainMetrics

	validator       ProtoValidator
	protoRegistry   map[string]func() proto.Message
	protoRegistryMu sync.RWMutex

	errorClassifier ErrorClassifier

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration. Register
// endpoints on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	if conf == nil {
		panic(errspkg.ErrConfigRequired)
	}
	if log == nil {
		log = loggingpkg.Nop()
	}
	if err := conf.Validate(); err != nil {
		panic(err)
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating phaseflow service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"config":        conf,
		})

	policy, err := unit.ParseDuplicatePolicy(conf.EffectiveDuplicatePolicy())
	if err != nil {
		panic(err)
	}
	templates, err := chain.NewTemplateCache(conf.EffectiveTemplateCacheSize())
	if err != nil {
		panic(err)
	}
	phases := deps.Phases
	if phases == nil {
		phases = phase.DefaultManager()
	}

	s := &Service{
		Conf:            conf,
		Logger:          log,
		phases:          phases,
		policy:          policy,
		bus:             unit.NewProvider("bus", policy),
		templates:       templates,
		endpoints:       make(map[string]*endpoint),
		hooks:           deps.Hooks,
		listener:        deps.FaultListener,
		validator:       deps.Validator,
		protoRegistry:   make(map[string]func() proto.Message),
		errorClassifier: deps.ErrorClassifier,
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	builder := deps.TransportBuilder
	if builder == nil {
		builder = transportpkg.Build
	}
	transport, err := builder(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	s.capabilities = transportpkg.GetCapabilities(conf.PubSubSystem)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		panic(err)
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)
	delivery, err := s.deliveryMiddlewares(wmLogger)
	if err != nil {
		panic(err)
	}
	s.router.AddMiddleware(delivery...)

	s.parked = newCorrelationStore(nil)
	if conf.MetricsEnabled {
		s.enableMetrics(deps.MetricsRegisterer)
	}

	s.initFeatures(deps)

	return s
}

// Start runs the underlying Watermill router until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.StartWebUIServer()
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Close stops the router and closes the transport.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil {
		if err := s.router.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running is closed once the router has started all handlers.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Bus returns the service-wide provider. Units added to it take part in the
// traversals of every endpoint.
func (s *Service) Bus() *unit.Provider { return s.bus }

// Phases returns the phase registries traversals are assembled over.
func (s *Service) Phases() *phase.Manager { return s.phases }

// Capabilities reports what the configured transport supports.
func (s *Service) Capabilities() transportpkg.Capabilities { return s.capabilities }

// Metrics returns the Prometheus collectors, or nil when metrics are disabled.
func (s *Service) Metrics() *ChainMetrics { return s.metrics }

// AddHooks merges h into the hooks of every traversal created afterwards.
func (s *Service) AddHooks(h chain.Hooks) {
	s.hooksMu.Lock()
	s.hooks = s.hooks.Merge(h)
	s.hooksMu.Unlock()
}

// AddFeatureHooks attaches h to the feature provider p. The hooks run for the
// traversals p takes part in: every endpoint for a service feature, one
// endpoint for an endpoint feature. A feature registered more than once on
// the same traversal contributes its hooks once.
func (s *Service) AddFeatureHooks(p *unit.Provider, h chain.Hooks) {
	s.featuresMu.Lock()
	defer s.featuresMu.Unlock()
	if s.scoped == nil {
		s.scoped = make(map[*unit.Provider]chain.Hooks)
	}
	s.scoped[p] = s.scoped[p].Merge(h)
}

// featureHooks merges the scoped hooks of the feature providers of ep.
func (s *Service) featureHooks(ep *endpoint) chain.Hooks {
	s.featuresMu.RLock()
	defer s.featuresMu.RUnlock()
	var merged chain.Hooks
	seen := make(map[string]bool)
	for _, p := range append(append([]*unit.Provider(nil), s.features...), ep.features...) {
		h, ok := s.scoped[p]
		if !ok || seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		merged = merged.Merge(h)
	}
	return merged
}

func (s *Service) currentHooks() chain.Hooks {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return s.hooks
}

func (s *Service) initFeatures(deps ServiceDependencies) {
	var defaults []Feature
	if !deps.DisableDefaultFeatures {
		defaults = DefaultFeatures()
	}
	features := make([]Feature, 0, len(defaults)+len(deps.Features))
	features = append(features, defaults...)
	features = append(features, deps.Features...)

	for _, f := range features {
		p, err := s.initFeature(f)
		if err != nil {
			panic(fmt.Sprintf("failed to initialise feature %s: %v", featureName(f), err))
		}
		s.featuresMu.Lock()
		s.features = append(s.features, p)
		s.featuresMu.Unlock()
	}
}

// AddFeature initialises f for every endpoint.
func (s *Service) AddFeature(f Feature) error {
	p, err := s.initFeature(f)
	if err != nil {
		return err
	}
	s.featuresMu.Lock()
	s.features = append(s.features, p)
	s.featuresMu.Unlock()
	return nil
}

func (s *Service) initFeature(f Feature) (*unit.Provider, error) {
	if f == nil {
		return nil, errors.New("phaseflow: feature is nil")
	}
	p := unit.NewProvider(featureName(f), s.policy)
	if err := f.Initialize(s, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) featureProviders() []*unit.Provider {
	s.featuresMu.RLock()
	defer s.featuresMu.RUnlock()
	return append([]*unit.Provider(nil), s.features...)
}

func (s *Service) enableMetrics(registerer prometheus.Registerer) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	s.metrics = NewChainMetrics(registerer)
	if err := s.metrics.Register(); err != nil {
		panic(fmt.Sprintf("failed to register chain metrics: %v", err))
	}
	s.AddHooks(s.metrics.Hooks())
	s.parked.observe = s.metrics.SetParked

	metricsBuilder := metrics.NewPrometheusMetricsBuilder(registerer, "phaseflow", s.Conf.PubSubSystem)
	metricsBuilder.AddPrometheusRouterMetrics(s.router)

	if s.Conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
	}
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
