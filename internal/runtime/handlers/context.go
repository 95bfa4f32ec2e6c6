// Package handlers adapts typed business functions into invoke units. The
// adapters decode the inbound payload, call the function and write its reply
// onto the exchange's outbound message.
package handlers

import (
	"errors"

	"github.com/drblury/phaseflow/internal/runtime/exchange"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

// MessageContextBase provides common functionality for all message context types.
// It holds the metadata, logger and exchange shared by JSON and Proto handlers.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
	Exchange *exchange.Exchange
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers for the reply without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata.Get(key)
}

// CorrelationID returns the correlation ID from metadata, falling back to the
// exchange.
func (b MessageContextBase) CorrelationID() string {
	if id := b.Metadata.Get(metadatapkg.KeyCorrelationID); id != "" {
		return id
	}
	if b.Exchange != nil {
		return b.Exchange.CorrelationID()
	}
	return ""
}

func newBase(msg *exchange.Message, logger loggingpkg.ServiceLogger) MessageContextBase {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return MessageContextBase{
		Metadata: msg.Headers().Clone(),
		Logger:   logger,
		Exchange: msg.Exchange(),
	}
}

// decodeFault reports a payload the handler could not read. It is the
// caller's fault, not the endpoint's.
func decodeFault(err error) error {
	return &exchange.Fault{
		Code:   exchange.CodeClient,
		Reason: "unreadable payload: " + err.Error(),
		Mode:   exchange.RuntimeFault,
		Cause:  err,
	}
}

// handlerFault keeps declared faults as they are and marks any other error
// returned by business code as an unchecked application fault.
func handlerFault(err error) error {
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
}

// writeReply stores payload and headers on the outbound message of the
// exchange msg belongs to.
func writeReply(msg *exchange.Message, payload []byte, headers metadatapkg.Metadata, schema string) error {
	ex := msg.Exchange()
	if ex == nil {
		return errors.New("phaseflow: message has no exchange to reply on")
	}
	out := ex.EnsureOut()
	out.SetPayload(payload)
	for k, v := range headers {
		out.SetHeader(k, v)
	}
	if schema != "" {
		out.SetHeader(metadatapkg.KeyEventSchema, schema)
	}
	return nil
}
