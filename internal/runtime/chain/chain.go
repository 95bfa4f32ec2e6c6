// Package chain assembles processing units into phase-ordered sequences and
// runs them as resumable traversals over one message.
package chain

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	"github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// State is the lifecycle state of a traversal.
type State int

const (
	Ready State = iota
	Running
	Paused
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Completed || s == Aborted }

// Template is an immutable pair of assembled sequences: the normal sequence
// of one direction and the fault sequence a traversal diverts to. Templates
// are shared read-only between traversals.
type Template struct {
	reg      *phase.Registry
	raw      []*unit.Unit
	units    []*unit.Unit
	faultReg *phase.Registry
	faults   []*unit.Unit
	policy   unit.DuplicatePolicy
}

// NewTemplate assembles units over reg and faults over faultReg. faultReg may
// be nil when there are no fault units.
func NewTemplate(reg *phase.Registry, units []*unit.Unit, faultReg *phase.Registry, faults []*unit.Unit, policy unit.DuplicatePolicy) (*Template, error) {
	sorted, err := Assemble(reg, units, policy)
	if err != nil {
		return nil, err
	}
	t := &Template{
		reg:    reg,
		raw:    append([]*unit.Unit(nil), units...),
		units:  sorted,
		policy: policy,
	}
	if faultReg == nil {
		if len(faults) > 0 {
			return nil, errspkg.NewConfigError("template", errors.New("fault units registered without a fault phase registry"))
		}
		return t, nil
	}
	sortedFaults, err := Assemble(faultReg, faults, policy)
	if err != nil {
		return nil, err
	}
	t.faultReg = faultReg
	t.faults = sortedFaults
	return t, nil
}

// With returns a template whose normal sequence additionally holds extra.
// The receiver is not modified.
func (t *Template) With(extra ...*unit.Unit) (*Template, error) {
	if len(extra) == 0 {
		return t, nil
	}
	raw := make([]*unit.Unit, 0, len(t.raw)+len(extra))
	raw = append(raw, t.raw...)
	raw = append(raw, extra...)
	sorted, err := Assemble(t.reg, raw, t.policy)
	if err != nil {
		return nil, err
	}
	clone := *t
	clone.raw = raw
	clone.units = sorted
	return &clone, nil
}

func (t *Template) Registry() *phase.Registry      { return t.reg }
func (t *Template) FaultRegistry() *phase.Registry { return t.faultReg }

// Units returns a copy of the assembled normal sequence.
func (t *Template) Units() []*unit.Unit { return append([]*unit.Unit(nil), t.units...) }

// Faults returns a copy of the assembled fault sequence.
func (t *Template) Faults() []*unit.Unit { return append([]*unit.Unit(nil), t.faults...) }

// IDs lists the unit ids of the normal sequence in order.
func (t *Template) IDs() []string { return unitIDs(t.units) }

// endingRegistry is the outbound registry ending counterparts are ordered
// over, if either sequence is outbound.
func (t *Template) endingRegistry() *phase.Registry {
	if t.reg != nil && t.reg.Direction() == phase.Outbound {
		return t.reg
	}
	if t.faultReg != nil && t.faultReg.Direction() == phase.Outbound {
		return t.faultReg
	}
	return nil
}

// Options configures a traversal.
type Options struct {
	// Name labels the traversal in logs and hooks.
	Name string
	// Logger defaults to a no-op logger.
	Logger logging.ServiceLogger
	// FaultListener is used when the carrier does not provide one through
	// exchange.PropFaultListener.
	FaultListener FaultListener
	Hooks         Hooks
	// Duplicates governs units added while the traversal runs.
	Duplicates unit.DuplicatePolicy
}

type executedUnit struct {
	unit     *unit.Unit
	outbound bool
}

// Chain is the execution state of one traversal: a cursor over a private copy
// of a template's sequence, bound to one message. It is heap allocated and
// holds no goroutine while paused.
type Chain struct {
	mu sync.Mutex

	id       string
	name     string
	tmpl     *Template
	msg      *exchange.Message
	log      logging.ServiceLogger
	listener FaultListener
	hooks    Hooks
	policy   unit.DuplicatePolicy

	seq       []*unit.Unit
	seqReg    *phase.Registry
	cursor    int
	state     State
	faultMode bool
	executed  []executedUnit

	current        *unit.Unit
	cont           *Continuation
	woken          bool
	proceeds       int
	pauseRequested bool
	abortRequested bool
	endingsDone    bool
	startedAt      time.Time
}

// New creates a traversal of tmpl for msg and binds msg to it.
func New(tmpl *Template, msg *exchange.Message, opts Options) *Chain {
	if tmpl == nil {
		panic("phaseflow: chain template cannot be nil")
	}
	if msg == nil {
		panic("phaseflow: chain message cannot be nil")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	c := &Chain{
		id:       idspkg.New(),
		name:     opts.Name,
		tmpl:     tmpl,
		msg:      msg,
		listener: opts.FaultListener,
		hooks:    opts.Hooks,
		policy:   opts.Duplicates,
		seq:      tmpl.Units(),
		seqReg:   tmpl.reg,
	}
	c.log = log.With(logging.LogFields{"chain_id": c.id, "chain": c.name})
	msg.SetTraversal(c)
	return c
}

// FromMessage returns the traversal msg is bound to. Units use it to pause
// the traversal, obtain a continuation or edit the pending sequence.
func FromMessage(msg *exchange.Message) (*Chain, bool) {
	if msg == nil {
		return nil, false
	}
	c, ok := msg.Traversal().(*Chain)
	return c, ok && c != nil
}

func (c *Chain) ID() string                 { return c.id }
func (c *Chain) Name() string               { return c.name }
func (c *Chain) Message() *exchange.Message { return c.msg }

func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFaultMode reports whether the traversal has diverted to its fault
// sequence.
func (c *Chain) InFaultMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faultMode
}

// Cursor is the index of the next unit to run in the active sequence.
func (c *Chain) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Sequence returns the ids of the active sequence.
func (c *Chain) Sequence() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return unitIDs(c.seq)
}

// Start runs the traversal from the first unit. It returns nil when the
// traversal parks, completes, is aborted or finishes its fault sequence. A
// double fault yields an error wrapping errors.ErrDoubleFault and a panicking
// unit yields an *errors.UnhandledError.
func (c *Chain) Start(ctx context.Context) error {
	return c.startFrom(ctx, func() (int, error) { return 0, nil })
}

// StartAt starts the traversal at the first unit with id, skipping the units
// before it.
func (c *Chain) StartAt(ctx context.Context, id string) error {
	return c.startFrom(ctx, func() (int, error) { return c.indexOfLocked(id) })
}

// StartAfter starts the traversal just after the first unit with id.
func (c *Chain) StartAfter(ctx context.Context, id string) error {
	return c.startFrom(ctx, func() (int, error) {
		i, err := c.indexOfLocked(id)
		return i + 1, err
	})
}

func (c *Chain) startFrom(ctx context.Context, position func() (int, error)) error {
	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return errspkg.ErrAlreadyStarted
	}
	pos, err := position()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.cursor = pos
	c.state = Running
	c.startedAt = time.Now()
	ev := c.eventLocked(ctx)
	c.mu.Unlock()

	c.log.Debug("Traversal started", logging.LogFields{"cursor": pos, "flow": c.Describe()})
	if c.hooks.OnStart != nil {
		c.hooks.OnStart(ev)
	}
	return c.run(ctx)
}

func (c *Chain) indexOfLocked(id string) (int, error) {
	for i, u := range c.seq {
		if u.ID() == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", errspkg.ErrUnitNotFound, id)
}

// Resume re-enters a paused traversal. A suspended traversal re-invokes the
// unit that suspended; a traversal paused through Pause continues with the
// next unit. Any other state yields errors.ErrNotPaused.
func (c *Chain) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Paused {
		c.mu.Unlock()
		return errspkg.ErrNotPaused
	}
	c.state = Running
	c.cont = nil
	ev := c.eventLocked(ctx)
	c.mu.Unlock()

	c.log.Trace("Traversal resumed", logging.LogFields{"cursor": ev.Cursor})
	if c.hooks.OnResume != nil {
		c.hooks.OnResume(ev)
	}
	return c.run(ctx)
}

// Pause asks the running traversal to park after the current unit returns.
// It is meant to be called by a unit of this traversal.
func (c *Chain) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return errspkg.ErrNotRunning
	}
	c.pauseRequested = true
	return nil
}

// Abort moves the traversal to ABORTED. A ready or paused traversal aborts
// immediately and runs its outbound endings; a running one aborts before its
// next unit. Aborting an aborted traversal is a no-op and aborting a completed
// one reports errors.ErrTerminated.
func (c *Chain) Abort(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Completed:
		c.mu.Unlock()
		return errspkg.ErrTerminated
	case Aborted:
		c.mu.Unlock()
		return nil
	case Running:
		c.abortRequested = true
		c.mu.Unlock()
		return nil
	}
	// Ready or Paused: no Resume may pass the state check from here on.
	c.state = Aborted
	c.cont = nil
	c.mu.Unlock()
	c.log.Debug("Traversal aborted", nil)
	c.terminate(ctx, Aborted)
	return nil
}

func (c *Chain) run(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.abortRequested {
			c.mu.Unlock()
			c.log.Debug("Traversal aborted", nil)
			c.terminate(ctx, Aborted)
			return nil
		}
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			c.log.Debug("Traversal aborted, context done", logging.LogFields{"cursor": c.Cursor()})
			c.terminate(ctx, Aborted)
			return fmt.Errorf("%w: %w", errspkg.ErrAborted, err)
		}
		if c.pauseRequested {
			c.park(ctx)
			return nil
		}
		if c.cursor >= len(c.seq) {
			c.mu.Unlock()
			c.terminate(ctx, Completed)
			return nil
		}
		u := c.seq[c.cursor]
		if c.cont != nil && !c.cont.boundTo(u, c.cursor, c.faultMode) {
			c.cont = nil
		}
		c.current = u
		c.woken = false
		mark := c.proceeds
		c.mu.Unlock()

		err := c.invoke(ctx, u)

		c.mu.Lock()
		if c.proceeds > mark {
			// u ran the rest of the sequence through Proceed
			c.mu.Unlock()
			if err != nil && !errspkg.IsSuspend(err) {
				return err
			}
			return nil
		}
		c.current = nil
		if err == nil {
			c.executed = append(c.executed, executedUnit{unit: u, outbound: c.seqReg.Direction() == phase.Outbound})
			c.cursor++
			c.mu.Unlock()
			continue
		}

		var unhandled *errspkg.UnhandledError
		if errors.As(err, &unhandled) {
			c.mu.Unlock()
			c.log.Error("Unit panicked, aborting traversal", unhandled, unitFields(u))
			c.terminate(ctx, Aborted)
			return unhandled
		}

		if errspkg.IsSuspend(err) {
			if c.woken {
				// the continuation fired before the unit returned
				c.woken = false
				c.mu.Unlock()
				continue
			}
			if c.abortRequested {
				c.mu.Unlock()
				c.terminate(ctx, Aborted)
				return nil
			}
			c.park(ctx)
			return nil
		}

		c.pauseRequested = false
		if c.faultMode {
			c.mu.Unlock()
			c.log.Error("Fault raised while handling a fault, aborting traversal", err, unitFields(u))
			c.terminate(ctx, Aborted)
			return fmt.Errorf("%w: unit %s: %w", errspkg.ErrDoubleFault, u, err)
		}
		c.mu.Unlock()
		c.divert(ctx, u, err)
	}
}

// park moves to PAUSED. It must be called with c.mu held and releases it.
func (c *Chain) park(ctx context.Context) {
	c.pauseRequested = false
	c.state = Paused
	ev := c.eventLocked(ctx)
	c.mu.Unlock()
	c.log.Debug("Traversal paused", logging.LogFields{"cursor": ev.Cursor})
	if c.hooks.OnPause != nil {
		c.hooks.OnPause(ev)
	}
}

func (c *Chain) invoke(ctx context.Context, u *unit.Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.UnhandledError{UnitID: u.ID(), Phase: u.Phase(), Value: r, Stack: debug.Stack()}
		}
	}()
	return u.Handle(ctx, c.msg)
}

// divert records the fault, unwinds the executed units and switches the
// cursor to the start of the fault sequence.
func (c *Chain) divert(ctx context.Context, failed *unit.Unit, cause error) {
	f := exchange.AsFault(cause)
	if f.UnitID == "" {
		f.UnitID = failed.ID()
		f.Phase = failed.Phase()
	}
	c.msg.SetFault(f)
	if ex := c.msg.Exchange(); ex != nil {
		ex.SetFault(f)
	}

	c.mu.Lock()
	unwind := make([]*unit.Unit, 0, len(c.executed)+1)
	unwind = append(unwind, failed)
	for i := len(c.executed) - 1; i >= 0; i-- {
		unwind = append(unwind, c.executed[i].unit)
	}
	c.mu.Unlock()
	for _, u := range unwind {
		c.unwindUnit(ctx, u)
	}

	if c.notify(ctx, f) {
		c.log.Error("Traversal faulted", f, logging.LogFields{
			"unit":       f.UnitID,
			"phase":      f.Phase,
			"fault_code": f.Code,
			"fault_mode": f.Mode.String(),
		})
	}

	c.mu.Lock()
	c.faultMode = true
	c.seq = c.tmpl.Faults()
	c.seqReg = c.tmpl.faultReg
	if c.seqReg == nil {
		c.seqReg = c.tmpl.reg
	}
	c.cursor = 0
	ev := c.eventLocked(ctx)
	c.mu.Unlock()

	if c.hooks.OnFault != nil {
		c.hooks.OnFault(ev, f)
	}
}

func (c *Chain) unwindUnit(ctx context.Context, u *unit.Unit) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Fault handler panicked", fmt.Errorf("%v", r), unitFields(u))
		}
	}()
	u.HandleFault(ctx, c.msg)
}

// notify tells the fault listener about f and reports whether the default
// log line should still be written.
func (c *Chain) notify(ctx context.Context, f *exchange.Fault) bool {
	listener := c.listener
	if v, ok := c.msg.ContextualProperty(exchange.PropFaultListener); ok {
		if l, ok := v.(FaultListener); ok && l != nil {
			listener = l
		}
	}
	if listener == nil {
		return true
	}
	return listener.OnFault(ctx, c.msg, f)
}

// terminate runs the ending sequence once and moves to final. An aborted
// traversal is marked before its endings run so concurrent resumes fail.
func (c *Chain) terminate(ctx context.Context, final State) {
	if final == Aborted {
		c.mu.Lock()
		c.state = Aborted
		c.cont = nil
		c.mu.Unlock()
	}
	c.runEndings(ctx)

	c.mu.Lock()
	c.state = final
	ev := c.eventLocked(ctx)
	c.mu.Unlock()

	if !c.startedAt.IsZero() {
		ev.Duration = time.Since(c.startedAt)
	}
	c.log.Debug("Traversal finished", logging.LogFields{"state": final.String(), "fault_mode": ev.FaultMode})
	if c.hooks.OnFinish != nil {
		c.hooks.OnFinish(ev)
	}
}

// runEndings invokes the ending counterparts of executed outbound units in
// reverse execution order, grouped by ending phase. Ending failures are
// logged and do not change the outcome of the traversal.
func (c *Chain) runEndings(ctx context.Context) {
	c.mu.Lock()
	if c.endingsDone {
		c.mu.Unlock()
		return
	}
	c.endingsDone = true
	reg := c.tmpl.endingRegistry()
	var pending []*unit.Unit
	for i := len(c.executed) - 1; i >= 0; i-- {
		e := c.executed[i]
		if e.outbound && e.unit.Ending() != nil {
			pending = append(pending, e.unit.Ending())
		}
	}
	c.mu.Unlock()

	if reg == nil || len(pending) == 0 {
		return
	}
	ordered, err := assembleEndings(reg, pending)
	if err != nil {
		c.log.Error("Ending sequence could not be ordered", err, nil)
		ordered = pending
	}
	for _, u := range ordered {
		if err := c.invoke(ctx, u); err != nil {
			c.log.Error("Ending unit failed", err, unitFields(u))
		}
	}
}

// Describe renders the active sequence grouped by phase. The next unit to
// run is marked with '>'.
func (c *Chain) Describe() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	seq := "normal"
	if c.faultMode {
		seq = "fault"
	}
	fmt.Fprintf(&b, "chain %s", c.id)
	if c.name != "" {
		fmt.Fprintf(&b, " [%s]", c.name)
	}
	fmt.Fprintf(&b, " state=%s sequence=%s\n", c.state, seq)

	last := ""
	for i, u := range c.seq {
		if u.Phase() != last {
			if last != "" {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "  %s:", u.Phase())
			last = u.Phase()
		}
		marker := " "
		if i == c.cursor && !c.state.Terminal() {
			marker = " >"
		}
		b.WriteString(marker)
		b.WriteString(u.ID())
	}
	if last != "" {
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *Chain) eventLocked(ctx context.Context) Event {
	return Event{
		ChainID:   c.id,
		Name:      c.name,
		Message:   c.msg,
		Context:   ctx,
		State:     c.state,
		FaultMode: c.faultMode,
		StartedAt: c.startedAt,
		Cursor:    c.cursor,
	}
}

func unitFields(u *unit.Unit) logging.LogFields {
	return logging.LogFields{"unit": u.ID(), "phase": u.Phase()}
}

func unitIDs(units []*unit.Unit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID()
	}
	return ids
}
