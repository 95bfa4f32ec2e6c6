package unit

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
)

// Kind selects one of the four collections of a Provider.
type Kind int

const (
	In Kind = iota
	Out
	InFault
	OutFault
	kindCount
)

func (k Kind) String() string {
	switch k {
	case In:
		return "in"
	case Out:
		return "out"
	case InFault:
		return "in-fault"
	case OutFault:
		return "out-fault"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DuplicatePolicy decides what happens when a unit id is added twice.
type DuplicatePolicy int

const (
	// DuplicateIgnore keeps the first registration and drops later ones.
	DuplicateIgnore DuplicatePolicy = iota
	// DuplicateReject reports ErrDuplicateUnit.
	DuplicateReject
	// DuplicateAllow keeps every registration.
	DuplicateAllow
)

// ParseDuplicatePolicy maps "ignore", "reject" and "allow" onto a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return DuplicateIgnore, nil
	case "reject":
		return DuplicateReject, nil
	case "allow":
		return DuplicateAllow, nil
	}
	return DuplicateIgnore, fmt.Errorf("phaseflow: unknown duplicate policy %q", s)
}

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateReject:
		return "reject"
	case DuplicateAllow:
		return "allow"
	default:
		return "ignore"
	}
}

var versionSeq atomic.Uint64

// Provider is a registration container contributed by a bus, an endpoint or
// a feature. It is safe for concurrent use; every mutation bumps Version so
// cached templates built from older contents are not reused.
type Provider struct {
	name   string
	policy DuplicatePolicy

	mu      sync.RWMutex
	sets    [kindCount][]*Unit
	version uint64
}

// NewProvider creates an empty provider.
func NewProvider(name string, policy DuplicatePolicy) *Provider {
	return &Provider{name: name, policy: policy, version: versionSeq.Add(1)}
}

func (p *Provider) Name() string { return p.name }

// Add registers units in the collection of kind.
func (p *Provider) Add(kind Kind, units ...*Unit) error {
	if kind < 0 || kind >= kindCount {
		return fmt.Errorf("phaseflow: invalid provider kind %d", int(kind))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.sets[kind]
	changed := false
	for _, u := range units {
		if u == nil {
			return errspkg.ErrUnitRequired
		}
		if p.policy != DuplicateAllow && indexOf(set, u.ID()) >= 0 {
			if p.policy == DuplicateReject {
				return fmt.Errorf("%w: %s in %s/%s", errspkg.ErrDuplicateUnit, u.ID(), p.name, kind)
			}
			continue
		}
		set = append(set, u)
		changed = true
	}
	p.sets[kind] = set
	if changed {
		p.version = versionSeq.Add(1)
	}
	return nil
}

// Remove drops every unit with id from the collection of kind and reports how
// many were removed.
func (p *Provider) Remove(kind Kind, id string) int {
	if kind < 0 || kind >= kindCount {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.sets[kind]
	kept := set[:0:0]
	for _, u := range set {
		if u.ID() != id {
			kept = append(kept, u)
		}
	}
	removed := len(set) - len(kept)
	if removed > 0 {
		p.sets[kind] = kept
		p.version = versionSeq.Add(1)
	}
	return removed
}

// Units returns a copy of the collection of kind in registration order.
func (p *Provider) Units(kind Kind) []*Unit {
	units, _ := p.Snapshot(kind)
	return units
}

// Snapshot returns the collection of kind together with the version it was
// read at.
func (p *Provider) Snapshot(kind Kind) ([]*Unit, uint64) {
	if kind < 0 || kind >= kindCount {
		return nil, 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Unit(nil), p.sets[kind]...), p.version
}

// Version changes whenever any collection changes.
func (p *Provider) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

func indexOf(units []*Unit, id string) int {
	for i, u := range units {
		if u.ID() == id {
			return i
		}
	}
	return -1
}
