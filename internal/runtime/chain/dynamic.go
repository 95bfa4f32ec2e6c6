package chain

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// Proceed lets the running unit wrap the rest of the traversal. It runs the
// remaining units on the calling goroutine and returns once the traversal
// has completed, parked, been aborted or finished its fault sequence; the
// error is the one Start would have returned. Code after Proceed runs after
// the wrapped units. The traversal does not look at the calling unit's
// return value except to hand a non-suspend error back to its own caller.
func (c *Chain) Proceed(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Running || c.current == nil {
		c.mu.Unlock()
		return errspkg.ErrNotRunning
	}
	c.executed = append(c.executed, executedUnit{unit: c.current, outbound: c.seqReg.Direction() == phase.Outbound})
	c.cursor++
	c.current = nil
	c.proceeds++
	c.mu.Unlock()
	return c.run(ctx)
}

// pendingLocked is the index of the first unit that has not started yet.
// The running unit, if any, already belongs to the consumed part.
func (c *Chain) pendingLocked() int {
	if c.current != nil {
		return c.cursor + 1
	}
	return c.cursor
}

// Add inserts units into the part of the active sequence that has not run
// yet, at the positions phase order and constraints dictate. A unit whose
// phase lies before the phase the traversal has reached is rejected with
// errors.ErrPhasePassed. Ids already in the sequence follow the traversal's
// duplicate policy. The sequence is left untouched on any error.
func (c *Chain) Add(units ...*unit.Unit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return errspkg.ErrTerminated
	}

	reg := c.seqReg
	hold := c.pendingLocked()
	reached := ""
	if hold > 0 {
		reached = c.seq[hold-1].Phase()
	}

	add := make([]*unit.Unit, 0, len(units))
	for _, u := range units {
		if u == nil {
			return errspkg.ErrUnitRequired
		}
		if reg.Position(u.Phase()) < 0 {
			return errspkg.NewConfigError("add "+reg.Direction().String(),
				fmt.Errorf("%w: %q for unit %s", errspkg.ErrUnknownPhase, u.Phase(), u.ID()))
		}
		if reached != "" && reg.Compare(u.Phase(), reached) < 0 {
			return fmt.Errorf("%w: unit %s targets %s, traversal is in %s", errspkg.ErrPhasePassed, u.ID(), u.Phase(), reached)
		}
		if c.policy != unit.DuplicateAllow && (containsID(c.seq, u.ID()) || containsID(add, u.ID())) {
			if c.policy == unit.DuplicateReject {
				return fmt.Errorf("%w: %s", errspkg.ErrDuplicateUnit, u.ID())
			}
			continue
		}
		add = append(add, u)
	}
	if len(add) == 0 {
		return nil
	}

	tail := make([]*unit.Unit, 0, len(c.seq)-hold+len(add))
	tail = append(tail, c.seq[hold:]...)
	tail = append(tail, add...)
	sorted, err := Assemble(reg, tail, unit.DuplicateAllow)
	if err != nil {
		return err
	}
	seq := make([]*unit.Unit, 0, hold+len(sorted))
	seq = append(seq, c.seq[:hold]...)
	c.seq = append(seq, sorted...)
	return nil
}

// Remove deletes every not-yet-run unit with id from the active sequence and
// reports how many were removed.
func (c *Chain) Remove(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return 0
	}
	hold := c.pendingLocked()
	seq := make([]*unit.Unit, 0, len(c.seq))
	seq = append(seq, c.seq[:hold]...)
	for _, u := range c.seq[hold:] {
		if u.ID() != id {
			seq = append(seq, u)
		}
	}
	removed := len(c.seq) - len(seq)
	c.seq = seq
	return removed
}

// Pending lists the ids of the units that have not started yet.
func (c *Chain) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return unitIDs(c.seq[c.pendingLocked():])
}

func containsID(units []*unit.Unit, id string) bool {
	for _, u := range units {
		if u.ID() == id {
			return true
		}
	}
	return false
}
