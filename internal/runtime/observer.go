package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// ObserveNewMessage is the entry point for raw transport input. A message
// whose phaseflow_relates_to header matches an exchange parked by the same
// endpoint becomes that exchange's inbound message and resumes the parked
// traversal. Any other
// message starts a new inbound traversal of the endpoint named by its
// phaseflow_endpoint header.
//
// The returned error is nil when the traversal parks, completes or handles
// its fault. Uncorrelated messages reaching a client endpoint are dropped and
// yield a nil chain.
func (s *Service) ObserveNewMessage(ctx context.Context, msg *exchange.Message) (*chain.Chain, error) {
	if msg == nil {
		return nil, errspkg.ErrPayloadRequired
	}
	if relatesTo := msg.Header(metadatapkg.KeyRelatesTo); relatesTo != "" {
		if p, ok := s.parked.takeFor(relatesTo, msg.Header(metadatapkg.KeyEndpoint)); ok {
			p.exchange.SetIn(msg)
			s.Logger.Trace("Resuming parked exchange", loggingpkg.LogFields{
				"correlation_id": relatesTo,
				"endpoint":       p.exchange.Endpoint(),
			})
			return p.cont.Chain(), p.cont.Resume(ctx)
		}
	}

	name := msg.Header(metadatapkg.KeyEndpoint)
	if name == "" {
		return nil, errspkg.ErrEndpointRequired
	}
	ep, ok := s.endpoint(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownEndpoint, name)
	}
	if ep.reg.Role == RoleClient {
		s.Logger.Info("Dropping uncorrelated response", loggingpkg.LogFields{
			"endpoint":   name,
			"message_id": msg.ID(),
			"relates_to": msg.Header(metadatapkg.KeyRelatesTo),
		})
		return nil, nil
	}

	tmpl, err := s.template(ep, phase.Inbound)
	if err != nil {
		return nil, err
	}

	ex := s.newExchange(ep)
	if corr := msg.Header(metadatapkg.KeyCorrelationID); corr != "" {
		ex.SetCorrelationID(corr)
	}
	ex.SetIn(msg)

	if v, ok := msg.ContextualProperty(exchange.PropExtraUnits); ok {
		extra, ok := v.([]*unit.Unit)
		if !ok {
			return nil, fmt.Errorf("phaseflow: %s must hold []*unit.Unit, got %T", exchange.PropExtraUnits, v)
		}
		if tmpl, err = tmpl.With(extra...); err != nil {
			return nil, err
		}
	}

	c := chain.New(tmpl, msg, s.chainOptions(ep, "in"))
	if after := msg.Header(metadatapkg.KeyStartAfter); after != "" {
		return c, c.StartAfter(ctx, after)
	}
	return c, c.Start(ctx)
}

// Resume attaches response to the exchange parked under correlationID and
// resumes its traversal on the calling goroutine.
func (s *Service) Resume(ctx context.Context, correlationID string, response *exchange.Message) error {
	if response == nil {
		return errspkg.ErrPayloadRequired
	}
	p, ok := s.parked.take(correlationID)
	if !ok {
		return fmt.Errorf("%w: no exchange parked under %s", errspkg.ErrNotPaused, correlationID)
	}
	p.exchange.SetIn(response)
	return p.cont.Resume(ctx)
}

// Abort aborts the traversal parked under correlationID. Its ending units
// still run.
func (s *Service) Abort(ctx context.Context, correlationID string) error {
	p, ok := s.parked.take(correlationID)
	if !ok {
		return fmt.Errorf("%w: no exchange parked under %s", errspkg.ErrNotPaused, correlationID)
	}
	return p.cont.Abort(ctx)
}

// Parked lists the correlation ids of exchanges waiting for a response.
func (s *Service) Parked() []string {
	return s.parked.ids()
}

func fromWatermill(wm *message.Message) *exchange.Message {
	msg := exchange.NewMessage(wm.Payload)
	msg.SetHeaders(metadatapkg.FromWatermill(wm.Metadata))
	return msg
}

func toWatermill(msg *exchange.Message) *message.Message {
	wm := message.NewMessage(msg.ID(), msg.Payload())
	wm.Metadata = metadatapkg.ToWatermill(msg.Headers())
	return wm
}

// publish hands msg to the transport. Failures are runtime faults carrying
// a *TransportError.
func (s *Service) publish(ctx context.Context, topic string, msg *exchange.Message) error {
	if s.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if !s.capabilities.Accepts(len(msg.Payload())) {
		return transportFault(topic, fmt.Errorf("payload of %d bytes exceeds the %s limit of %d bytes",
			len(msg.Payload()), s.capabilities.Name, s.capabilities.MaxMessageSize))
	}
	wm := toWatermill(msg)
	if ctx != nil {
		wm.SetContext(ctx)
	}
	if err := s.publisher.Publish(topic, wm); err != nil {
		return transportFault(topic, err)
	}
	return nil
}

func transportFault(topic string, err error) *exchange.Fault {
	cause := &TransportError{Topic: topic, Err: err}
	return &exchange.Fault{
		Code:   exchange.CodeServer,
		Reason: cause.Error(),
		Mode:   exchange.RuntimeFault,
		Cause:  cause,
	}
}
