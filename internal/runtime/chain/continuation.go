package chain

import (
	"context"
	"sync/atomic"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// Continuation is a single-fire handle that resumes a traversal suspended by
// the unit that obtained it. It may fire from any goroutine, including before
// the suspending unit has returned; the engine then re-invokes the unit
// instead of parking.
type Continuation struct {
	chain  *Chain
	unit   *unit.Unit
	cursor int
	fault  bool
	fired  atomic.Bool
}

// Continuation returns a resume handle bound to the unit currently running.
// The unit passes it to its asynchronous completion source and then returns
// errors.ErrSuspend.
func (c *Chain) Continuation() (*Continuation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running || c.current == nil {
		return nil, errspkg.ErrNotRunning
	}
	k := &Continuation{chain: c, unit: c.current, cursor: c.cursor, fault: c.faultMode}
	c.cont = k
	return k, nil
}

func (k *Continuation) boundTo(u *unit.Unit, cursor int, fault bool) bool {
	return k.unit == u && k.cursor == cursor && k.fault == fault
}

// Chain returns the traversal the continuation belongs to.
func (k *Continuation) Chain() *Chain { return k.chain }

// Fired reports whether Resume or Abort has been called.
func (k *Continuation) Fired() bool { return k.fired.Load() }

// Resume wakes the traversal. Only the first call has an effect; later calls
// and calls on a stale handle report errors.ErrNotPaused.
func (k *Continuation) Resume(ctx context.Context) error {
	if !k.fired.CompareAndSwap(false, true) {
		return errspkg.ErrNotPaused
	}
	c := k.chain
	c.mu.Lock()
	if c.cont != k {
		c.mu.Unlock()
		return errspkg.ErrNotPaused
	}
	c.cont = nil
	if c.state == Running && c.current == k.unit {
		c.woken = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.Resume(ctx)
}

// Abort aborts the traversal instead of resuming it. Only the first call on
// the handle has an effect.
func (k *Continuation) Abort(ctx context.Context) error {
	if !k.fired.CompareAndSwap(false, true) {
		return errspkg.ErrNotPaused
	}
	return k.chain.Abort(ctx)
}
