// Package unit defines processing units, the single-operation handlers a
// traversal invokes, and the provider collections they are registered in.
package unit

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/drblury/phaseflow/internal/runtime/exchange"
)

// Handler processes one message. Returning nil continues the traversal,
// returning errors.ErrSuspend parks it at this unit, and any other error
// diverts it to the fault sequence.
type Handler interface {
	Handle(ctx context.Context, msg *exchange.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *exchange.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *exchange.Message) error {
	return f(ctx, msg)
}

// FaultHandler is implemented by handlers that compensate when the traversal
// they already ran in faults. It is called in reverse execution order.
type FaultHandler interface {
	HandleFault(ctx context.Context, msg *exchange.Message)
}

// Unit is an immutable registration of a handler in a phase. Units are shared
// by pointer between templates and traversals.
type Unit struct {
	id      string
	phase   string
	before  []string
	after   []string
	handler Handler
	ending  *Unit
}

// Option customises a unit at construction.
type Option func(*config)

type config struct {
	id           string
	before       []string
	after        []string
	endingPhase  string
	endingHandle Handler
}

// WithID overrides the default id, which is derived from the handler type.
func WithID(id string) Option {
	return func(c *config) { c.id = id }
}

// Before asks for the unit to run before the named units of the same phase.
func Before(ids ...string) Option {
	return func(c *config) { c.before = append(c.before, ids...) }
}

// After asks for the unit to run after the named units of the same phase.
func After(ids ...string) Option {
	return func(c *config) { c.after = append(c.after, ids...) }
}

// WithEnding attaches an ending counterpart in an ending phase. Outbound
// traversals run the counterparts of executed units when they finish.
func WithEnding(endingPhase string, h Handler) Option {
	return func(c *config) {
		c.endingPhase = endingPhase
		c.endingHandle = h
	}
}

// New registers h in phase. It panics on a nil handler, matching the other
// constructors that guard against programming errors.
func New(phase string, h Handler, opts ...Option) *Unit {
	if h == nil {
		panic("phaseflow: unit handler cannot be nil")
	}
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	id := cfg.id
	if id == "" {
		id = DefaultID(h)
	}
	u := &Unit{
		id:      id,
		phase:   phase,
		before:  dedupe(cfg.before, id),
		after:   dedupe(cfg.after, id),
		handler: h,
	}
	if cfg.endingHandle != nil {
		u.ending = &Unit{id: id + "-ending", phase: cfg.endingPhase, handler: cfg.endingHandle}
	}
	return u
}

// Func is shorthand for New with a HandlerFunc.
func Func(phase string, fn func(ctx context.Context, msg *exchange.Message) error, opts ...Option) *Unit {
	return New(phase, HandlerFunc(fn), opts...)
}

// DefaultID names a handler by its Go type, or by function name for
// HandlerFunc values.
func DefaultID(h Handler) string {
	if fn, ok := h.(HandlerFunc); ok {
		if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
			return f.Name()
		}
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", h), "*")
}

func dedupe(ids []string, self string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == self {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (u *Unit) ID() string       { return u.id }
func (u *Unit) Phase() string    { return u.phase }
func (u *Unit) Handler() Handler { return u.handler }

// Ending returns the ending counterpart, or nil.
func (u *Unit) Ending() *Unit { return u.ending }

func (u *Unit) BeforeIDs() []string { return append([]string(nil), u.before...) }
func (u *Unit) AfterIDs() []string  { return append([]string(nil), u.after...) }

// Handle runs the unit's handler.
func (u *Unit) Handle(ctx context.Context, msg *exchange.Message) error {
	return u.handler.Handle(ctx, msg)
}

// HandleFault forwards to the handler when it implements FaultHandler and
// reports whether it did.
func (u *Unit) HandleFault(ctx context.Context, msg *exchange.Message) bool {
	fh, ok := u.handler.(FaultHandler)
	if !ok {
		return false
	}
	fh.HandleFault(ctx, msg)
	return true
}

func (u *Unit) String() string {
	return u.phase + "/" + u.id
}
