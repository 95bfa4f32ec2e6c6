package phaseflow

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/phaseflow/internal/runtime"
	"github.com/drblury/phaseflow/internal/runtime/chain"
	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	handlerpkg "github.com/drblury/phaseflow/internal/runtime/handlers"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
	transportpkg "github.com/drblury/phaseflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ProtoValidator      = runtimepkg.ProtoValidator

	// Endpoints
	Role                                       = runtimepkg.Role
	EndpointRegistration                       = runtimepkg.EndpointRegistration
	EndpointOptions                            = runtimepkg.EndpointOptions
	JSONEndpointRegistration[T any, O any]     = runtimepkg.JSONEndpointRegistration[T, O]
	ProtoEndpointRegistration[T proto.Message] = runtimepkg.ProtoEndpointRegistration[T]
	Call                                       = runtimepkg.Call

	JSONMessageContext[T any]            = handlerpkg.JSONMessageContext[T]
	JSONMessageOutput[T any]             = handlerpkg.JSONMessageOutput[T]
	JSONMessageHandler[T any, O any]     = handlerpkg.JSONMessageHandler[T, O]
	ProtoMessageContext[T proto.Message] = handlerpkg.ProtoMessageContext[T]
	ProtoMessageOutput                   = handlerpkg.ProtoMessageOutput
	ProtoMessageHandler[T proto.Message] = handlerpkg.ProtoMessageHandler[T]
	MessageContextBase                   = handlerpkg.MessageContextBase

	// Features
	Feature     = runtimepkg.Feature
	FeatureFunc = runtimepkg.FeatureFunc

	// Engine
	Message           = exchange.Message
	Exchange          = exchange.Exchange
	Fault             = exchange.Fault
	FaultMode         = exchange.FaultMode
	Unit              = unit.Unit
	UnitOption        = unit.Option
	UnitKind          = unit.Kind
	Handler           = unit.Handler
	HandlerFunc       = unit.HandlerFunc
	FaultHandler      = unit.FaultHandler
	Provider          = unit.Provider
	DuplicatePolicy   = unit.DuplicatePolicy
	Phase             = phase.Phase
	PhaseRegistry     = phase.Registry
	PhaseManager      = phase.Manager
	PhaseBuilder      = phase.Builder
	Direction         = phase.Direction
	Chain             = chain.Chain
	ChainState        = chain.State
	ChainOptions      = chain.Options
	Template          = chain.Template
	Continuation      = chain.Continuation
	Hooks             = chain.Hooks
	Event             = chain.Event
	FaultListener     = chain.FaultListener
	FaultListenerFunc = chain.FaultListenerFunc

	Producer = runtimepkg.Producer

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Introspection and statistics
	Snapshot                = runtimepkg.Snapshot
	EndpointView            = runtimepkg.EndpointView
	EndpointStats           = runtimepkg.EndpointStats
	ChainMetrics            = runtimepkg.ChainMetrics
	ErrorClassifier         = runtimepkg.ErrorClassifier
	ErrorCategory           = runtimepkg.ErrorCategory
	UnprocessableEventError = runtimepkg.UnprocessableEventError
	TransportError          = runtimepkg.TransportError

	ConfigError = errspkg.ConfigError
	CycleError  = errspkg.CycleError

	// Transports
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

// Endpoint roles.
const (
	RoleServer = runtimepkg.RoleServer
	RoleClient = runtimepkg.RoleClient
)

// Unit collections of a provider.
const (
	In       = unit.In
	Out      = unit.Out
	InFault  = unit.InFault
	OutFault = unit.OutFault
)

// Duplicate unit id policies.
const (
	DuplicateIgnore = unit.DuplicateIgnore
	DuplicateReject = unit.DuplicateReject
	DuplicateAllow  = unit.DuplicateAllow
)

// Traversal states.
const (
	Ready     = chain.Ready
	Running   = chain.Running
	Paused    = chain.Paused
	Completed = chain.Completed
	Aborted   = chain.Aborted
)

// Traversal directions.
const (
	Inbound  = phase.Inbound
	Outbound = phase.Outbound
)

// Fault modes.
const (
	RuntimeFault              = exchange.RuntimeFault
	LogicalRuntimeFault       = exchange.LogicalRuntimeFault
	CheckedApplicationFault   = exchange.CheckedApplicationFault
	UncheckedApplicationFault = exchange.UncheckedApplicationFault
)

// Standard phase names.
const (
	PhaseReceive      = phase.Receive
	PhaseUnmarshal    = phase.Unmarshal
	PhasePreLogical   = phase.PreLogical
	PhaseUserLogical  = phase.UserLogical
	PhasePostLogical  = phase.PostLogical
	PhasePreInvoke    = phase.PreInvoke
	PhaseInvoke       = phase.Invoke
	PhasePostInvoke   = phase.PostInvoke
	PhaseSetup        = phase.Setup
	PhasePrepareSend  = phase.PrepareSend
	PhaseMarshal      = phase.Marshal
	PhaseSend         = phase.Send
	PhaseSetupEnding  = phase.SetupEnding
	PhaseSendEnding   = phase.SendEnding
	PhaseUserProtocol = phase.UserProtocol
	PhaseUserStream   = phase.UserStream
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.Load

	RegisterEndpoint    = runtimepkg.RegisterEndpoint
	RegisterHandlerFunc = runtimepkg.RegisterHandlerFunc

	DefaultFeatures      = runtimepkg.DefaultFeatures
	CorrelationFeature   = runtimepkg.CorrelationFeature
	LoggingFeature       = runtimepkg.LoggingFeature
	TracingFeature       = runtimepkg.TracingFeature
	ProtoValidateFeature = runtimepkg.ProtoValidateFeature

	LoggingHooks     = runtimepkg.LoggingHooks
	MetricsHooks     = runtimepkg.MetricsHooks
	AlertingHooks    = runtimepkg.AlertingHooks
	NewChainMetrics  = runtimepkg.NewChainMetrics
	NewMessage       = exchange.NewMessage
	NewExchange      = exchange.New
	NewFault         = exchange.NewFault
	ApplicationFault = exchange.ApplicationFault
	AsFault          = exchange.AsFault

	NewUnit         = unit.New
	UnitFunc        = unit.Func
	WithID          = unit.WithID
	Before          = unit.Before
	After           = unit.After
	WithEnding      = unit.WithEnding
	NewProvider     = unit.NewProvider
	ParseDuplicates = unit.ParseDuplicatePolicy

	NewPhaseBuilder     = phase.NewBuilder
	DefaultPhaseManager = phase.DefaultManager
	EndingOf            = phase.EndingOf

	Assemble            = chain.Assemble
	NewTemplate         = chain.NewTemplate
	NewChain            = chain.New
	ChainFromMessage    = chain.FromMessage
	NewTemplateCache    = chain.NewTemplateCache
	Suspend             = errspkg.Suspend
	IsSuspend           = errspkg.IsSuspend
	NewMessageFromProto = runtimepkg.NewMessageFromProto
	PublishProto        = runtimepkg.PublishProto
	DecodeJSON          = runtimepkg.DecodeJSON
	GetCapabilities     = transportpkg.GetCapabilities
	DefaultTransports   = transportpkg.DefaultRegistry
	RegisterTransport   = transportpkg.Register
	BuildTransport      = transportpkg.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrSuspend                     = errspkg.ErrSuspend
	ErrNotPaused                   = errspkg.ErrNotPaused
	ErrNotRunning                  = errspkg.ErrNotRunning
	ErrAlreadyStarted              = errspkg.ErrAlreadyStarted
	ErrTerminated                  = errspkg.ErrTerminated
	ErrAborted                     = errspkg.ErrAborted
	ErrDoubleFault                 = errspkg.ErrDoubleFault
	ErrUnitNotFound                = errspkg.ErrUnitNotFound
	ErrPhasePassed                 = errspkg.ErrPhasePassed
	ErrNoTraversal                 = errspkg.ErrNoTraversal
	ErrDuplicatePhase              = errspkg.ErrDuplicatePhase
	ErrPhaseOrder                  = errspkg.ErrPhaseOrder
	ErrUnknownPhase                = errspkg.ErrUnknownPhase
	ErrDuplicateUnit               = errspkg.ErrDuplicateUnit
	ErrInvalidEnding               = errspkg.ErrInvalidEnding
	ErrServiceRequired             = errspkg.ErrServiceRequired
	ErrEndpointRequired            = errspkg.ErrEndpointRequired
	ErrUnknownEndpoint             = errspkg.ErrUnknownEndpoint
	ErrDuplicateEndpoint           = errspkg.ErrDuplicateEndpoint
	ErrHandlerRequired             = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired        = errspkg.ErrConsumeQueueRequired
	ErrConsumeMessageTypeRequired  = errspkg.ErrConsumeMessageTypeRequired
	ErrConsumeMessagePointerNeeded = errspkg.ErrConsumeMessagePointerNeeded
	ErrPublisherRequired           = errspkg.ErrPublisherRequired
	ErrTopicRequired               = errspkg.ErrTopicRequired
	ErrConfigRequired              = errspkg.ErrConfigRequired
	ErrLoggerRequired              = errspkg.ErrLoggerRequired
	ErrPayloadRequired             = errspkg.ErrPayloadRequired

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONServiceLogger = loggingpkg.NewJSONServiceLogger
	NopLogger            = loggingpkg.Nop

	NewMetadata = metadatapkg.New

	// NewID generates a lexically sortable ULID.
	NewID = idspkg.New
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEventSchema   = metadatapkg.KeyEventSchema
	MetadataKeyEndpoint      = metadatapkg.KeyEndpoint
	MetadataKeyRelatesTo     = metadatapkg.KeyRelatesTo
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyFault         = metadatapkg.KeyFault
	MetadataKeyStartAfter    = metadatapkg.KeyStartAfter
	MetadataKeyTraceID       = metadatapkg.KeyTraceID
	MetadataKeySpanID        = metadatapkg.KeySpanID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone        = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation  = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport   = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream  = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryApplication = runtimepkg.ErrorCategoryApplication
	ErrorCategoryOther       = runtimepkg.ErrorCategoryOther
)

func RegisterJSONEndpoint[T any, O any](svc *Service, cfg JSONEndpointRegistration[T, O]) error {
	return runtimepkg.RegisterJSONEndpoint(svc, cfg)
}

func RegisterProtoEndpoint[T proto.Message](svc *Service, cfg ProtoEndpointRegistration[T]) error {
	return runtimepkg.RegisterProtoEndpoint(svc, cfg)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}

// Content returns the typed content slot T of msg.
func Content[T any](msg *Message) (T, bool) {
	return exchange.Content[T](msg)
}

// SetContent stores v in the typed content slot T of msg.
func SetContent[T any](msg *Message, v T) {
	exchange.SetContent(msg, v)
}
