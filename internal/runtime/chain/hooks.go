package chain

import (
	"context"
	"time"

	"github.com/drblury/phaseflow/internal/runtime/exchange"
)

// Event describes a traversal to lifecycle hooks.
type Event struct {
	// ChainID is the unique id of the traversal.
	ChainID string
	// Name is the label the traversal was created with, usually the endpoint
	// and direction.
	Name string
	// Message is the carrier being processed.
	Message *exchange.Message
	// Context is the context of the Start or Resume call.
	Context context.Context
	// State is the state at the time of the event.
	State State
	// FaultMode reports whether the fault sequence is running.
	FaultMode bool
	// Cursor is the index of the next unit in the active sequence.
	Cursor int
	// StartedAt is when the traversal started.
	StartedAt time.Time
	// Duration is set on OnFinish.
	Duration time.Duration
}

// Hooks defines callbacks for traversal lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type Hooks struct {
	// OnStart is called once when the traversal starts.
	OnStart func(ev Event)

	// OnPause is called whenever the traversal parks, either suspended by a
	// unit or paused on request.
	OnPause func(ev Event)

	// OnResume is called before a parked traversal re-enters the engine.
	OnResume func(ev Event)

	// OnFault is called when a unit faults, after unwinding and before the
	// fault sequence runs.
	OnFault func(ev Event, fault *exchange.Fault)

	// OnFinish is called once when the traversal reaches COMPLETED or
	// ABORTED. Duration is the wall time since start.
	OnFinish func(ev Event)
}

// Merge combines two Hooks, creating a new Hooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart:  chainEventHooks(h.OnStart, other.OnStart),
		OnPause:  chainEventHooks(h.OnPause, other.OnPause),
		OnResume: chainEventHooks(h.OnResume, other.OnResume),
		OnFault:  chainFaultHooks(h.OnFault, other.OnFault),
		OnFinish: chainEventHooks(h.OnFinish, other.OnFinish),
	}
}

func chainEventHooks(a, b func(Event)) func(Event) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ev Event) {
		a(ev)
		b(ev)
	}
}

func chainFaultHooks(a, b func(Event, *exchange.Fault)) func(Event, *exchange.Fault) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ev Event, f *exchange.Fault) {
		a(ev, f)
		b(ev, f)
	}
}

// FaultListener is told about every fault a traversal diverts on. Returning
// false suppresses the engine's own fault log line.
type FaultListener interface {
	OnFault(ctx context.Context, msg *exchange.Message, fault *exchange.Fault) bool
}

// FaultListenerFunc adapts a function to FaultListener.
type FaultListenerFunc func(ctx context.Context, msg *exchange.Message, fault *exchange.Fault) bool

func (f FaultListenerFunc) OnFault(ctx context.Context, msg *exchange.Message, fault *exchange.Fault) bool {
	return f(ctx, msg, fault)
}
