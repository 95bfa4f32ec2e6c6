package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

// Call tracks a request sent through a client endpoint. It completes when the
// outbound traversal finishes, which for a two-way exchange is after the
// correlated response has been processed.
type Call struct {
	svc      *Service
	exchange *exchange.Exchange
	chain    *chain.Chain

	done     chan struct{}
	once     sync.Once
	response *exchange.Message
	err      error
}

func newCall(svc *Service, ex *exchange.Exchange) *Call {
	return &Call{svc: svc, exchange: ex, done: make(chan struct{})}
}

func (c *Call) finish(ev chain.Event) {
	c.once.Do(func() {
		c.response = c.exchange.In()
		switch f := c.exchange.Fault(); {
		case f != nil:
			c.err = f
		case ev.State == chain.Aborted:
			c.err = errspkg.ErrAborted
		}
		close(c.done)
	})
}

// Exchange returns the exchange of the call.
func (c *Call) Exchange() *exchange.Exchange { return c.exchange }

// Chain returns the outbound traversal.
func (c *Call) Chain() *chain.Chain { return c.chain }

// CorrelationID is the id the response is matched by.
func (c *Call) CorrelationID() string { return c.exchange.CorrelationID() }

// Done is closed when the call has finished.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the call finishes and returns the response message. A
// one-way call returns a nil message. Faults raised on either side are
// returned as *exchange.Fault. When ctx ends first the parked exchange is
// aborted.
func (c *Call) Wait(ctx context.Context) (*exchange.Message, error) {
	select {
	case <-c.done:
		return c.response, c.err
	case <-ctx.Done():
		_ = c.svc.Abort(context.WithoutCancel(ctx), c.CorrelationID())
		return nil, ctx.Err()
	}
}

// Dispatch sends payload through the outbound traversal of a client
// endpoint. The traversal parks once the request is published and resumes
// when the correlated response arrives on the endpoint's consume queue.
func (s *Service) Dispatch(ctx context.Context, name string, payload []byte, headers metadatapkg.Metadata) (*Call, error) {
	ep, ok := s.endpoint(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownEndpoint, name)
	}
	if ep.reg.Role != RoleClient {
		return nil, fmt.Errorf("%w: %s is not a client endpoint", errspkg.ErrUnknownEndpoint, name)
	}
	tmpl, err := s.template(ep, phase.Outbound)
	if err != nil {
		return nil, err
	}

	ex := s.newExchange(ep)
	msg := exchange.NewMessage(payload)
	msg.SetHeaders(headers)
	if corr := msg.Header(metadatapkg.KeyCorrelationID); corr != "" {
		ex.SetCorrelationID(corr)
	}
	ex.SetOut(msg)

	call := newCall(s, ex)
	opts := s.chainOptions(ep, "out")
	opts.Hooks = opts.Hooks.Merge(chain.Hooks{OnFinish: call.finish})
	call.chain = chain.New(tmpl, msg, opts)

	if err := call.chain.Start(ctx); err != nil {
		return call, err
	}
	return call, nil
}
