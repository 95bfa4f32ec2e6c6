// Package exchange holds the message carrier that flows through a traversal
// and the exchange that groups the messages of one request/response pair.
package exchange

import (
	"reflect"

	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

// Reserved property keys read by the engine.
const (
	// PropExtraUnits holds per-message units merged into the traversal.
	PropExtraUnits = "phaseflow.extra_units"
	// PropFaultListener holds a listener notified about faults.
	PropFaultListener = "phaseflow.fault_listener"
	// PropRequestor marks a message sent by the client side of an exchange.
	PropRequestor = "phaseflow.requestor"
)

// Message is the unit of data a traversal operates on. A message belongs to
// one traversal at a time and is not safe for concurrent use.
type Message struct {
	id        string
	headers   metadatapkg.Metadata
	payload   []byte
	props     map[string]any
	contents  map[reflect.Type]any
	exchange  *Exchange
	fault     *Fault
	traversal any
}

// NewMessage creates a message with a fresh id.
func NewMessage(payload []byte) *Message {
	return &Message{
		id:      idspkg.New(),
		headers: metadatapkg.Metadata{},
		payload: payload,
	}
}

func (m *Message) ID() string { return m.id }

// Headers returns the live header map.
func (m *Message) Headers() metadatapkg.Metadata { return m.headers }

func (m *Message) Header(key string) string { return m.headers.Get(key) }

func (m *Message) SetHeader(key, value string) { m.headers[key] = value }

// SetHeaders replaces all headers with a copy of md.
func (m *Message) SetHeaders(md metadatapkg.Metadata) { m.headers = md.Clone() }

func (m *Message) Payload() []byte { return m.payload }

func (m *Message) SetPayload(p []byte) { m.payload = p }

// Get returns the message-level property stored under key.
func (m *Message) Get(key string) (any, bool) {
	v, ok := m.props[key]
	return v, ok
}

func (m *Message) Put(key string, value any) {
	if m.props == nil {
		m.props = make(map[string]any)
	}
	m.props[key] = value
}

func (m *Message) Remove(key string) {
	delete(m.props, key)
}

// ContextualProperty looks key up on the message, then its exchange, then the
// endpoint properties the exchange was created with.
func (m *Message) ContextualProperty(key string) (any, bool) {
	if v, ok := m.props[key]; ok {
		return v, true
	}
	if m.exchange == nil {
		return nil, false
	}
	return m.exchange.contextual(key)
}

// Exchange returns the exchange the message belongs to, or nil.
func (m *Message) Exchange() *Exchange { return m.exchange }

// Fault returns the fault recorded while this message was traversing.
func (m *Message) Fault() *Fault { return m.fault }

func (m *Message) SetFault(f *Fault) { m.fault = f }

// Traversal returns the traversal currently processing the message. It is set
// by the engine; units should use chain.FromMessage instead.
func (m *Message) Traversal() any { return m.traversal }

// SetTraversal binds the message to a traversal.
func (m *Message) SetTraversal(t any) { m.traversal = t }

// IsRequestor reports whether the message travels on the client side.
func (m *Message) IsRequestor() bool {
	v, _ := m.ContextualProperty(PropRequestor)
	b, _ := v.(bool)
	return b
}

// Content returns the typed content slot for T.
func Content[T any](m *Message) (T, bool) {
	var zero T
	if m == nil || m.contents == nil {
		return zero, false
	}
	v, ok := m.contents[typeOf[T]()]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// SetContent stores v in the typed content slot for T.
func SetContent[T any](m *Message, v T) {
	if m.contents == nil {
		m.contents = make(map[reflect.Type]any)
	}
	m.contents[typeOf[T]()] = v
}

// RemoveContent clears the typed content slot for T.
func RemoveContent[T any](m *Message) {
	delete(m.contents, typeOf[T]())
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
