package metadata

import "sort"

// Reserved header keys. Custom headers should not reuse them.
const (
	// KeyCorrelationID ties request, response and fault messages together.
	KeyCorrelationID = "correlation_id"
	// KeyEventSchema identifies the payload type.
	KeyEventSchema = "event_message_schema"
	// KeyEndpoint names the endpoint a raw message is addressed to.
	KeyEndpoint = "phaseflow_endpoint"
	// KeyRelatesTo carries the correlation id of the exchange a reply belongs to.
	KeyRelatesTo = "phaseflow_relates_to"
	// KeyReplyTo names the queue a response should be published on.
	KeyReplyTo = "phaseflow_reply_to"
	// KeyFault marks a message whose payload is a serialized fault.
	KeyFault = "phaseflow_fault"
	// KeyStartAfter asks the observer to begin the inbound traversal after a unit id.
	KeyStartAfter = "phaseflow_start_after"
	KeyTraceID    = "trace_id"
	KeySpanID     = "span_id"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the headers. The result is never nil.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy containing key=value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy with entries layered on top.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Get is nil-safe.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Keys returns the header names in lexical order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
