package exchange

import (
	"sync"

	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

// Exchange groups the request, response and fault messages of one
// interaction. Its accessors are safe for concurrent use: a reply may be
// attached by a transport goroutine while the request traversal is parked.
type Exchange struct {
	mu sync.RWMutex

	id            string
	correlationID string
	endpoint      string
	oneWay        bool

	in, out           *Message
	inFault, outFault *Message
	fault             *Fault

	props         map[string]any
	endpointProps map[string]any
}

// New creates an exchange bound to endpoint. endpointProps are read-only
// defaults for ContextualProperty lookups.
func New(endpoint string, endpointProps map[string]any) *Exchange {
	id := idspkg.New()
	return &Exchange{
		id:            id,
		correlationID: id,
		endpoint:      endpoint,
		endpointProps: endpointProps,
	}
}

func (e *Exchange) ID() string { return e.id }

func (e *Exchange) Endpoint() string { return e.endpoint }

func (e *Exchange) CorrelationID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.correlationID
}

func (e *Exchange) SetCorrelationID(id string) {
	e.mu.Lock()
	e.correlationID = id
	e.mu.Unlock()
}

// OneWay reports whether no response is expected.
func (e *Exchange) OneWay() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oneWay
}

func (e *Exchange) SetOneWay(v bool) {
	e.mu.Lock()
	e.oneWay = v
	e.mu.Unlock()
}

func (e *Exchange) In() *Message       { return e.get(&e.in) }
func (e *Exchange) Out() *Message      { return e.get(&e.out) }
func (e *Exchange) InFault() *Message  { return e.get(&e.inFault) }
func (e *Exchange) OutFault() *Message { return e.get(&e.outFault) }

// SetIn attaches m as the inbound message and binds it to the exchange.
func (e *Exchange) SetIn(m *Message)       { e.set(&e.in, m) }
func (e *Exchange) SetOut(m *Message)      { e.set(&e.out, m) }
func (e *Exchange) SetInFault(m *Message)  { e.set(&e.inFault, m) }
func (e *Exchange) SetOutFault(m *Message) { e.set(&e.outFault, m) }

// EnsureOut returns the outbound message, creating an empty one if needed.
// A new message inherits the correlation header of the inbound message.
func (e *Exchange) EnsureOut() *Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out == nil {
		e.out = NewMessage(nil)
		e.out.exchange = e
		if e.in != nil {
			if corr := e.in.Header(metadatapkg.KeyCorrelationID); corr != "" {
				e.out.SetHeader(metadatapkg.KeyCorrelationID, corr)
			}
		}
	}
	return e.out
}

func (e *Exchange) get(slot **Message) *Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *slot
}

func (e *Exchange) set(slot **Message, m *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m != nil {
		m.exchange = e
	}
	*slot = m
}

// Fault returns the fault recorded on the exchange.
func (e *Exchange) Fault() *Fault {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fault
}

func (e *Exchange) SetFault(f *Fault) {
	e.mu.Lock()
	e.fault = f
	e.mu.Unlock()
}

func (e *Exchange) Get(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.props[key]
	return v, ok
}

func (e *Exchange) Put(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.props == nil {
		e.props = make(map[string]any)
	}
	e.props[key] = value
}

func (e *Exchange) contextual(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.props[key]; ok {
		return v, true
	}
	v, ok := e.endpointProps[key]
	return v, ok
}
