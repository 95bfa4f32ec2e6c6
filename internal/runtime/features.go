package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// Feature contributes units to a provider. Features passed to the service
// apply to every endpoint; features on an EndpointRegistration apply to that
// endpoint only.
type Feature interface {
	Name() string
	Initialize(s *Service, p *unit.Provider) error
}

// FeatureFunc adapts a function to the Feature interface.
type FeatureFunc struct {
	FeatureName string
	Init        func(s *Service, p *unit.Provider) error
}

func (f FeatureFunc) Name() string { return f.FeatureName }

func (f FeatureFunc) Initialize(s *Service, p *unit.Provider) error {
	if f.Init == nil {
		return errors.New("feature registration requires Init")
	}
	return f.Init(s, p)
}

func featureName(f Feature) string {
	if f == nil {
		return "<nil>"
	}
	if name := f.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%T", f)
}

// Ids of the units contributed by the default features.
const (
	UnitCorrelationIn  = "correlation-in"
	UnitCorrelationOut = "correlation-out"
	UnitLogIn          = "log-in"
	UnitLogOut         = "log-out"
	UnitLogFault       = "log-fault"
	UnitTraceIn        = "trace-in"
	UnitTraceOut       = "trace-out"
	UnitProtoValidate  = "proto-validate"
)

// DefaultFeatures returns the features NewService installs unless
// ServiceDependencies.DisableDefaultFeatures is set.
func DefaultFeatures() []Feature {
	return []Feature{
		CorrelationFeature(),
		LoggingFeature(nil),
		TracingFeature(),
		ProtoValidateFeature(),
	}
}

// CorrelationFeature makes sure every message carries a correlation_id
// header that matches its exchange.
func CorrelationFeature() Feature {
	return FeatureFunc{
		FeatureName: "correlation_id",
		Init: func(_ *Service, p *unit.Provider) error {
			if err := p.Add(unit.In, unit.Func(phase.Receive, correlateInbound, unit.WithID(UnitCorrelationIn))); err != nil {
				return err
			}
			return p.Add(unit.Out, unit.Func(phase.Setup, correlateOutbound, unit.WithID(UnitCorrelationOut)))
		},
	}
}

func correlateInbound(_ context.Context, msg *exchange.Message) error {
	corr := msg.Header(metadatapkg.KeyCorrelationID)
	ex := msg.Exchange()
	switch {
	case corr == "" && ex != nil:
		msg.SetHeader(metadatapkg.KeyCorrelationID, ex.CorrelationID())
	case corr == "":
		msg.SetHeader(metadatapkg.KeyCorrelationID, idspkg.New())
	case ex != nil && ex.CorrelationID() != corr && !msg.IsRequestor():
		ex.SetCorrelationID(corr)
	}
	return nil
}

func correlateOutbound(_ context.Context, msg *exchange.Message) error {
	if msg.Header(metadatapkg.KeyCorrelationID) != "" {
		return nil
	}
	if ex := msg.Exchange(); ex != nil {
		msg.SetHeader(metadatapkg.KeyCorrelationID, ex.CorrelationID())
		return nil
	}
	msg.SetHeader(metadatapkg.KeyCorrelationID, idspkg.New())
	return nil
}

// LoggingFeature logs every message entering and leaving an endpoint, and
// every fault sequence. A nil logger falls back to the service logger.
func LoggingFeature(logger loggingpkg.ServiceLogger) Feature {
	return FeatureFunc{
		FeatureName: "log_messages",
		Init: func(s *Service, p *unit.Provider) error {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return errors.New("log messages feature requires a logger")
			}
			if err := p.Add(unit.In, unit.Func(phase.Receive, logMessage(l, "Processing message"),
				unit.WithID(UnitLogIn), unit.After(UnitCorrelationIn))); err != nil {
				return err
			}
			if err := p.Add(unit.Out, unit.Func(phase.PrepareSend, logMessage(l, "Sending message"), unit.WithID(UnitLogOut))); err != nil {
				return err
			}
			if err := p.Add(unit.InFault, unit.Func(phase.Receive, logFault(l), unit.WithID(UnitLogFault))); err != nil {
				return err
			}
			return p.Add(unit.OutFault, unit.Func(phase.Setup, logFault(l), unit.WithID(UnitLogFault)))
		},
	}
}

func logMessage(l loggingpkg.ServiceLogger, text string) unit.HandlerFunc {
	return func(_ context.Context, msg *exchange.Message) error {
		l.Debug(text, loggingpkg.LogFields{
			"message_id": msg.ID(),
			"payload":    string(msg.Payload()),
			"metadata":   msg.Headers(),
		})
		return nil
	}
}

func logFault(l loggingpkg.ServiceLogger) unit.HandlerFunc {
	return func(_ context.Context, msg *exchange.Message) error {
		fields := loggingpkg.LogFields{"message_id": msg.ID()}
		f := msg.Fault()
		if f == nil && msg.Exchange() != nil {
			f = msg.Exchange().Fault()
		}
		if f != nil {
			fields["fault_code"] = f.Code
			fields["fault_mode"] = f.Mode.String()
			fields["fault_unit"] = f.UnitID
			fields["fault_phase"] = f.Phase
			fields["fault_reason"] = f.Reason
		}
		l.Debug("Handling fault", fields)
		return nil
	}
}

// TracingFeature wraps inbound and outbound traversals in OpenTelemetry
// spans. Outbound messages carry the span ids in their headers.
func TracingFeature() Feature {
	return FeatureFunc{
		FeatureName: "tracer",
		Init: func(s *Service, p *unit.Provider) error {
			tracer := otel.Tracer("phaseflow")
			if err := p.Add(unit.In, unit.Func(phase.Receive, startInboundSpan(tracer),
				unit.WithID(UnitTraceIn), unit.Before(UnitLogIn))); err != nil {
				return err
			}
			if err := p.Add(unit.Out, unit.Func(phase.Setup, startOutboundSpan(tracer),
				unit.WithID(UnitTraceOut), unit.WithEnding(phase.SetupEnding, unit.HandlerFunc(endOutboundSpan)))); err != nil {
				return err
			}
			s.AddFeatureHooks(p, chain.Hooks{
				OnFault:  recordSpanFault,
				OnFinish: endInboundSpan,
			})
			return nil
		},
	}
}

// inboundSpan and outboundSpan keep the two spans of an exchange in
// separate content slots.
type inboundSpan struct{ trace.Span }

type outboundSpan struct{ trace.Span }

func spanParent(ctx context.Context, other *exchange.Message) context.Context {
	if sp, ok := exchange.Content[outboundSpan](other); ok {
		return trace.ContextWithSpan(ctx, sp.Span)
	}
	if sp, ok := exchange.Content[inboundSpan](other); ok {
		return trace.ContextWithSpan(ctx, sp.Span)
	}
	return ctx
}

func spanAttributes(msg *exchange.Message) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("message.id", msg.ID()),
		attribute.String("message.schema", msg.Header(metadatapkg.KeyEventSchema)),
	}
	if ex := msg.Exchange(); ex != nil {
		attrs = append(attrs,
			attribute.String("phaseflow.endpoint", ex.Endpoint()),
			attribute.String("phaseflow.correlation_id", ex.CorrelationID()),
		)
	}
	return attrs
}

func startInboundSpan(tracer trace.Tracer) unit.HandlerFunc {
	return func(ctx context.Context, msg *exchange.Message) error {
		if ex := msg.Exchange(); ex != nil && ex.Out() != nil {
			ctx = spanParent(ctx, ex.Out())
		}
		_, span := tracer.Start(ctx, "ProcessMessage", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(spanAttributes(msg)...)
		exchange.SetContent(msg, inboundSpan{span})
		return nil
	}
}

func startOutboundSpan(tracer trace.Tracer) unit.HandlerFunc {
	return func(ctx context.Context, msg *exchange.Message) error {
		if ex := msg.Exchange(); ex != nil && ex.In() != nil {
			ctx = spanParent(ctx, ex.In())
		}
		_, span := tracer.Start(ctx, "SendMessage", trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(spanAttributes(msg)...)
		if sc := span.SpanContext(); sc.IsValid() {
			msg.SetHeader(metadatapkg.KeyTraceID, sc.TraceID().String())
			msg.SetHeader(metadatapkg.KeySpanID, sc.SpanID().String())
		}
		exchange.SetContent(msg, outboundSpan{span})
		return nil
	}
}

func endOutboundSpan(_ context.Context, msg *exchange.Message) error {
	if sp, ok := exchange.Content[outboundSpan](msg); ok {
		if f := msg.Fault(); f != nil {
			sp.SetStatus(codes.Error, f.Reason)
		}
		sp.End()
		exchange.RemoveContent[outboundSpan](msg)
	}
	return nil
}

func recordSpanFault(ev chain.Event, f *exchange.Fault) {
	if sp, ok := exchange.Content[inboundSpan](ev.Message); ok {
		sp.RecordError(f)
		sp.SetStatus(codes.Error, f.Reason)
	}
}

func endInboundSpan(ev chain.Event) {
	if sp, ok := exchange.Content[inboundSpan](ev.Message); ok {
		sp.SetAttributes(attribute.String("phaseflow.state", ev.State.String()))
		sp.End()
		exchange.RemoveContent[inboundSpan](ev.Message)
	}
}

// ProtoValidateFeature decodes payloads whose event_message_schema names a
// registered protobuf type and runs the configured validator over them. It
// is inert until the service has a validator.
func ProtoValidateFeature() Feature {
	return FeatureFunc{
		FeatureName: "proto_validate",
		Init: func(s *Service, p *unit.Provider) error {
			return p.Add(unit.In, unit.Func(phase.Unmarshal, s.validateProto, unit.WithID(UnitProtoValidate)))
		},
	}
}

func (s *Service) validateProto(_ context.Context, msg *exchange.Message) error {
	if s.validator == nil {
		return nil
	}
	schema := msg.Header(metadatapkg.KeyEventSchema)
	if schema == "" || schema == FaultSchema {
		return nil
	}

	newProto, ok := s.protoType(schema)
	if !ok {
		return unprocessable(msg, fmt.Errorf("unknown event type: %s", schema))
	}
	protoMsg := newProto()
	if err := protojson.Unmarshal(msg.Payload(), protoMsg); err != nil {
		return unprocessable(msg, err)
	}
	if err := s.validator.Validate(protoMsg); err != nil {
		return unprocessable(msg, err)
	}
	return nil
}

func unprocessable(msg *exchange.Message, err error) *exchange.Fault {
	cause := &UnprocessableEventError{eventMessage: string(msg.Payload()), err: err}
	return &exchange.Fault{
		Code:   exchange.CodeClient,
		Reason: err.Error(),
		Mode:   exchange.RuntimeFault,
		Cause:  cause,
	}
}

// RegisterProtoMessage makes the type of prototype known to the validation
// feature under its full protobuf name.
func (s *Service) RegisterProtoMessage(prototype proto.Message) {
	if prototype == nil {
		return
	}
	s.registerProtoType(prototype)
}

func (s *Service) registerProtoType(prototype proto.Message) {
	name := protoSchema(prototype)
	s.protoRegistryMu.Lock()
	defer s.protoRegistryMu.Unlock()
	s.protoRegistry[name] = func() proto.Message {
		return prototype.ProtoReflect().New().Interface()
	}
}

func (s *Service) protoType(schema string) (func() proto.Message, bool) {
	s.protoRegistryMu.RLock()
	defer s.protoRegistryMu.RUnlock()
	f, ok := s.protoRegistry[schema]
	return f, ok
}

func protoSchema(m proto.Message) string {
	return string(m.ProtoReflect().Descriptor().FullName())
}
