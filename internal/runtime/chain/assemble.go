package chain

import (
	"errors"
	"fmt"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

// Assemble orders units into an executable sequence: grouped by phase in
// registry order, and within a phase topologically sorted by the before/after
// constraints. Units with no constraint between them keep their insertion
// order. Constraints naming units of other phases are ignored.
//
// An unknown phase, a rejected duplicate or an unsatisfiable constraint set is
// a configuration error and no sequence is produced.
func Assemble(reg *phase.Registry, units []*unit.Unit, policy unit.DuplicatePolicy) ([]*unit.Unit, error) {
	if reg == nil {
		return nil, errspkg.NewConfigError("assemble", errors.New("phase registry is required"))
	}
	accepted, err := applyPolicy(units, policy)
	if err != nil {
		return nil, err
	}

	phases := reg.Phases()
	buckets := make([][]*unit.Unit, len(phases))
	for _, u := range accepted {
		pos := reg.Position(u.Phase())
		if pos < 0 {
			return nil, errspkg.NewConfigError("assemble "+reg.Direction().String(),
				fmt.Errorf("%w: %q for unit %s", errspkg.ErrUnknownPhase, u.Phase(), u.ID()))
		}
		if end := u.Ending(); end != nil && reg.Direction() == phase.Outbound {
			if reg.EndingPosition(end.Phase()) < 0 {
				return nil, errspkg.NewConfigError("assemble "+reg.Direction().String(),
					fmt.Errorf("%w: %q for unit %s", errspkg.ErrInvalidEnding, end.Phase(), u.ID()))
			}
		}
		buckets[pos] = append(buckets[pos], u)
	}

	out := make([]*unit.Unit, 0, len(accepted))
	for i, bucket := range buckets {
		sorted, err := sortPhase(phases[i].Name, bucket)
		if err != nil {
			return nil, errspkg.NewConfigError("assemble "+reg.Direction().String(), err)
		}
		out = append(out, sorted...)
	}
	return out, nil
}

// assembleEndings orders ending counterparts over the ending sub-sequence of
// an outbound registry. Units are expected in reverse execution order.
func assembleEndings(reg *phase.Registry, endings []*unit.Unit) ([]*unit.Unit, error) {
	phases := reg.EndingPhases()
	buckets := make([][]*unit.Unit, len(phases))
	for _, u := range endings {
		pos := reg.EndingPosition(u.Phase())
		if pos < 0 {
			return nil, fmt.Errorf("%w: %q for unit %s", errspkg.ErrInvalidEnding, u.Phase(), u.ID())
		}
		buckets[pos] = append(buckets[pos], u)
	}
	out := make([]*unit.Unit, 0, len(endings))
	for i, bucket := range buckets {
		sorted, err := sortPhase(phases[i].Name, bucket)
		if err != nil {
			return nil, err
		}
		out = append(out, sorted...)
	}
	return out, nil
}

func applyPolicy(units []*unit.Unit, policy unit.DuplicatePolicy) ([]*unit.Unit, error) {
	accepted := make([]*unit.Unit, 0, len(units))
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if u == nil {
			continue
		}
		if _, dup := seen[u.ID()]; dup && policy != unit.DuplicateAllow {
			if policy == unit.DuplicateReject {
				return nil, errspkg.NewConfigError("assemble", fmt.Errorf("%w: %s", errspkg.ErrDuplicateUnit, u.ID()))
			}
			continue
		}
		seen[u.ID()] = struct{}{}
		accepted = append(accepted, u)
	}
	return accepted, nil
}

// sortPhase is Kahn's algorithm where the ready unit with the lowest
// insertion index always goes next, which makes the result deterministic and
// leaves unconstrained units in registration order.
func sortPhase(phaseName string, members []*unit.Unit) ([]*unit.Unit, error) {
	n := len(members)
	if n < 2 {
		return members, nil
	}

	byID := make(map[string][]int, n)
	for i, u := range members {
		byID[u.ID()] = append(byID[u.ID()], i)
	}

	succ := make([][]int, n)
	indeg := make([]int, n)
	edge := func(from, to int) {
		if from == to {
			return
		}
		succ[from] = append(succ[from], to)
		indeg[to]++
	}
	for i, u := range members {
		for _, id := range u.BeforeIDs() {
			for _, j := range byID[id] {
				edge(i, j)
			}
		}
		for _, id := range u.AfterIDs() {
			for _, j := range byID[id] {
				edge(j, i)
			}
		}
	}

	placed := make([]bool, n)
	out := make([]*unit.Unit, 0, n)
	for len(out) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !placed[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i := 0; i < n; i++ {
				if !placed[i] {
					stuck = append(stuck, members[i].ID())
				}
			}
			return nil, &errspkg.CycleError{Phase: phaseName, Units: stuck}
		}
		placed[next] = true
		out = append(out, members[next])
		for _, j := range succ[next] {
			indeg[j]--
		}
	}
	return out, nil
}
