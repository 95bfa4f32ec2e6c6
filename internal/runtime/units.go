package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// Ids of the units every endpoint contributes.
const (
	UnitInvoke        = "invoke"
	UnitOutgoingChain = "outgoing-chain"
	UnitSend          = "send"
	UnitSendEnding    = "send-ending"
	UnitFaultMarshal  = "fault-marshal"
	UnitFaultSend     = "fault-send"
	UnitFaultCheck    = "fault-check"
	UnitFaultCapture  = "fault-capture"
)

// FaultSchema is the event_message_schema of serialized faults.
const FaultSchema = "phaseflow.Fault"

// installEndpointUnits registers the units that bind ep's traversals to the
// transport.
func (s *Service) installEndpointUnits(ep *endpoint) error {
	p := ep.provider
	if ep.reg.Role == RoleClient {
		if err := p.Add(unit.Out, s.clientSendUnit(ep)); err != nil {
			return err
		}
		if err := p.Add(unit.In, unit.Func(phase.Unmarshal, checkFault, unit.WithID(UnitFaultCheck))); err != nil {
			return err
		}
		if ep.reg.Handler != nil {
			if err := p.Add(unit.In, invokeUnit(ep.reg.Handler)); err != nil {
				return err
			}
		}
		return p.Add(unit.InFault, unit.Func(phase.PostInvoke, captureFault, unit.WithID(UnitFaultCapture)))
	}

	if err := p.Add(unit.In, invokeUnit(ep.reg.Handler), s.outgoingChainUnit(ep)); err != nil {
		return err
	}
	if err := p.Add(unit.Out, s.serverSendUnit(ep)); err != nil {
		return err
	}
	return p.Add(unit.OutFault,
		unit.Func(phase.Marshal, marshalFault, unit.WithID(UnitFaultMarshal)),
		s.faultSendUnit(ep),
	)
}

// invokeUnit runs the endpoint handler. Errors that are not already faults
// become unchecked application faults.
func invokeUnit(h unit.Handler) *unit.Unit {
	return unit.Func(phase.Invoke, func(ctx context.Context, msg *exchange.Message) error {
		err := h.Handle(ctx, msg)
		if err == nil || errspkg.IsSuspend(err) {
			return err
		}
		var f *exchange.Fault
		if errors.As(err, &f) {
			return err
		}
		return &exchange.Fault{
			Code:   exchange.CodeServer,
			Reason: err.Error(),
			Mode:   exchange.UncheckedApplicationFault,
			Cause:  err,
		}
	}, unit.WithID(UnitInvoke))
}

// outgoingChainUnit starts the response traversal once the handler has
// produced an outbound message.
func (s *Service) outgoingChainUnit(ep *endpoint) *unit.Unit {
	return unit.Func(phase.PostInvoke, func(ctx context.Context, msg *exchange.Message) error {
		ex := msg.Exchange()
		if ex == nil || ex.OneWay() {
			return nil
		}
		out := ex.Out()
		if out == nil {
			return nil
		}
		tmpl, err := s.template(ep, phase.Outbound)
		if err != nil {
			return err
		}
		return chain.New(tmpl, out, s.chainOptions(ep, "out")).Start(ctx)
	}, unit.WithID(UnitOutgoingChain))
}

// replyTopic prefers the reply address of the request over the endpoint's
// publish queue.
func replyTopic(ep *endpoint, ex *exchange.Exchange) string {
	if in := ex.In(); in != nil {
		if to := in.Header(metadatapkg.KeyReplyTo); to != "" {
			return to
		}
	}
	return ep.reg.PublishQueue
}

func (s *Service) serverSendUnit(ep *endpoint) *unit.Unit {
	return unit.Func(phase.Send, func(ctx context.Context, msg *exchange.Message) error {
		ex := msg.Exchange()
		topic := replyTopic(ep, ex)
		if topic == "" {
			s.Logger.Debug("No reply destination, dropping response", loggingpkg.LogFields{
				"endpoint":       ep.reg.Name,
				"correlation_id": ex.CorrelationID(),
			})
			return nil
		}
		msg.SetHeader(metadatapkg.KeyCorrelationID, ex.CorrelationID())
		msg.SetHeader(metadatapkg.KeyRelatesTo, ex.CorrelationID())
		return s.publish(ctx, topic, msg)
	}, unit.WithID(UnitSend), unit.WithEnding(phase.SendEnding, s.releaseHandler()))
}

// clientSendUnit publishes the request and suspends until the correlated
// response is attached to the exchange. On re-invocation it runs the
// response traversal and lets the outbound traversal complete.
func (s *Service) clientSendUnit(ep *endpoint) *unit.Unit {
	return unit.Func(phase.Send, func(ctx context.Context, msg *exchange.Message) error {
		ex := msg.Exchange()
		if resp := ex.In(); resp != nil {
			tmpl, err := s.template(ep, phase.Inbound)
			if err != nil {
				return err
			}
			return chain.New(tmpl, resp, s.chainOptions(ep, "response")).Start(ctx)
		}

		corr := ex.CorrelationID()
		msg.SetHeader(metadatapkg.KeyCorrelationID, corr)
		if ex.OneWay() {
			return s.publish(ctx, ep.reg.PublishQueue, msg)
		}
		msg.SetHeader(metadatapkg.KeyReplyTo, ep.reg.ConsumeQueue)

		c, ok := chain.FromMessage(msg)
		if !ok {
			return errspkg.ErrNoTraversal
		}
		k, err := c.Continuation()
		if err != nil {
			return err
		}
		s.parked.put(corr, parkedExchange{exchange: ex, cont: k})
		if err := s.publish(ctx, ep.reg.PublishQueue, msg); err != nil {
			s.parked.take(corr)
			return err
		}
		return errspkg.Suspend()
	}, unit.WithID(UnitSend), unit.WithEnding(phase.SendEnding, s.releaseHandler()))
}

// releaseHandler drops a parked entry left behind by an aborted requestor
// traversal.
func (s *Service) releaseHandler() unit.Handler {
	return unit.HandlerFunc(func(ctx context.Context, msg *exchange.Message) error {
		ex := msg.Exchange()
		if ex == nil || !msg.IsRequestor() {
			return nil
		}
		if _, ok := s.parked.take(ex.CorrelationID()); ok {
			s.Logger.Debug("Released parked exchange", loggingpkg.LogFields{
				"endpoint":       ex.Endpoint(),
				"correlation_id": ex.CorrelationID(),
			})
		}
		return nil
	})
}

// faultEnvelope is the wire form of a fault.
type faultEnvelope struct {
	Code    string            `json:"code"`
	Reason  string            `json:"reason"`
	Mode    string            `json:"mode"`
	Unit    string            `json:"unit,omitempty"`
	Phase   string            `json:"phase,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func newFaultEnvelope(f *exchange.Fault) faultEnvelope {
	return faultEnvelope{
		Code:    f.Code,
		Reason:  f.Reason,
		Mode:    f.Mode.String(),
		Unit:    f.UnitID,
		Phase:   f.Phase,
		Details: f.Details,
	}
}

func (e faultEnvelope) fault() *exchange.Fault {
	return &exchange.Fault{
		Code:    e.Code,
		Reason:  e.Reason,
		Mode:    parseFaultMode(e.Mode),
		UnitID:  e.Unit,
		Phase:   e.Phase,
		Details: e.Details,
	}
}

func parseFaultMode(s string) exchange.FaultMode {
	for _, m := range []exchange.FaultMode{
		exchange.LogicalRuntimeFault,
		exchange.CheckedApplicationFault,
		exchange.UncheckedApplicationFault,
	} {
		if m.String() == s {
			return m
		}
	}
	return exchange.RuntimeFault
}

// marshalFault serializes the recorded fault into the exchange's out-fault
// message.
func marshalFault(_ context.Context, msg *exchange.Message) error {
	ex := msg.Exchange()
	f := msg.Fault()
	if f == nil && ex != nil {
		f = ex.Fault()
	}
	if ex == nil || f == nil {
		return nil
	}
	payload, err := jsoncodec.Marshal(newFaultEnvelope(f))
	if err != nil {
		return fmt.Errorf("marshal fault: %w", err)
	}
	fm := exchange.NewMessage(payload)
	fm.SetHeader(metadatapkg.KeyFault, "true")
	fm.SetHeader(metadatapkg.KeyEventSchema, FaultSchema)
	fm.SetHeader(metadatapkg.KeyCorrelationID, ex.CorrelationID())
	fm.SetHeader(metadatapkg.KeyRelatesTo, ex.CorrelationID())
	fm.SetFault(f)
	ex.SetOutFault(fm)
	return nil
}

func (s *Service) faultSendUnit(ep *endpoint) *unit.Unit {
	return unit.Func(phase.Send, func(ctx context.Context, msg *exchange.Message) error {
		ex := msg.Exchange()
		if ex == nil || ex.OneWay() {
			return nil
		}
		fm := ex.OutFault()
		topic := replyTopic(ep, ex)
		if fm == nil || topic == "" {
			return nil
		}
		return s.publish(ctx, topic, fm)
	}, unit.WithID(UnitFaultSend))
}

// checkFault turns a serialized fault received as a response back into a
// fault, diverting the response traversal.
func checkFault(_ context.Context, msg *exchange.Message) error {
	if msg.Header(metadatapkg.KeyFault) != "true" {
		return nil
	}
	var env faultEnvelope
	if err := jsoncodec.Unmarshal(msg.Payload(), &env); err != nil {
		return &exchange.Fault{
			Code:   exchange.CodeClient,
			Reason: "unreadable fault payload: " + err.Error(),
			Mode:   exchange.RuntimeFault,
			Cause:  err,
		}
	}
	return env.fault()
}

// captureFault records the faulting message on the exchange for the caller.
func captureFault(_ context.Context, msg *exchange.Message) error {
	ex := msg.Exchange()
	if ex == nil {
		return nil
	}
	if ex.InFault() == nil {
		ex.SetInFault(msg)
	}
	return nil
}
