// Package phase defines the named, totally ordered stages a traversal moves
// through, one registry per direction.
package phase

import (
	"errors"
	"fmt"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
)

// Phase is an immutable named stage with an ordering key.
type Phase struct {
	Name string
	Key  int
}

func (p Phase) String() string {
	return fmt.Sprintf("%s(%d)", p.Name, p.Key)
}

// Less orders phases by key, ties broken by name.
func Less(a, b Phase) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Name < b.Name
}

// Direction selects the inbound or outbound registry.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Registry is the ordered set of phases for one direction. It is immutable
// once built and safe for concurrent reads.
type Registry struct {
	direction Direction
	phases    []Phase
	endings   []Phase
	index     map[string]int
	ending    map[string]int
}

// Direction reports which direction the registry orders.
func (r *Registry) Direction() Direction { return r.direction }

// Phases returns the normal phases in order.
func (r *Registry) Phases() []Phase {
	return append([]Phase(nil), r.phases...)
}

// EndingPhases returns the ending sub-sequence in order. Only ending
// counterparts of outbound units may target these phases.
func (r *Registry) EndingPhases() []Phase {
	return append([]Phase(nil), r.endings...)
}

// Lookup finds a normal phase by name.
func (r *Registry) Lookup(name string) (Phase, bool) {
	i, ok := r.index[name]
	if !ok {
		return Phase{}, false
	}
	return r.phases[i], true
}

// LookupEnding finds an ending phase by name.
func (r *Registry) LookupEnding(name string) (Phase, bool) {
	i, ok := r.ending[name]
	if !ok {
		return Phase{}, false
	}
	return r.endings[i], true
}

// Position returns the ordinal of a normal phase, or -1.
func (r *Registry) Position(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}

// EndingPosition returns the ordinal of an ending phase, or -1.
func (r *Registry) EndingPosition(name string) int {
	if i, ok := r.ending[name]; ok {
		return i
	}
	return -1
}

// Compare orders two phase names of this registry: negative when a runs before
// b. Unknown names sort last.
func (r *Registry) Compare(a, b string) int {
	pa, pb := r.Position(a), r.Position(b)
	if pa < 0 {
		pa = len(r.phases)
	}
	if pb < 0 {
		pb = len(r.phases)
	}
	return pa - pb
}

// Builder accumulates phases before producing a Registry. Keys must be
// strictly increasing in registration order within each sequence.
type Builder struct {
	direction Direction
	phases    []Phase
	endings   []Phase
	errs      []error
}

// NewBuilder starts an empty registry for dir.
func NewBuilder(dir Direction) *Builder {
	return &Builder{direction: dir}
}

// Register appends a normal phase.
func (b *Builder) Register(name string, key int) *Builder {
	b.phases = b.add(b.phases, name, key)
	return b
}

// RegisterEnding appends an ending phase.
func (b *Builder) RegisterEnding(name string, key int) *Builder {
	b.endings = b.add(b.endings, name, key)
	return b
}

func (b *Builder) add(seq []Phase, name string, key int) []Phase {
	if name == "" {
		b.errs = append(b.errs, errors.New("phase name is required"))
		return seq
	}
	if b.has(name) {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", errspkg.ErrDuplicatePhase, name))
		return seq
	}
	if n := len(seq); n > 0 && key <= seq[n-1].Key {
		b.errs = append(b.errs, fmt.Errorf("%w: %s(%d) after %s", errspkg.ErrPhaseOrder, name, key, seq[n-1]))
		return seq
	}
	return append(seq, Phase{Name: name, Key: key})
}

func (b *Builder) has(name string) bool {
	for _, p := range b.phases {
		if p.Name == name {
			return true
		}
	}
	for _, p := range b.endings {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Build validates the accumulated phases. Any registration problem is
// reported as a configuration error.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errspkg.NewConfigError("register "+b.direction.String()+" phases", errors.Join(b.errs...))
	}
	r := &Registry{
		direction: b.direction,
		phases:    append([]Phase(nil), b.phases...),
		endings:   append([]Phase(nil), b.endings...),
		index:     make(map[string]int, len(b.phases)),
		ending:    make(map[string]int, len(b.endings)),
	}
	for i, p := range r.phases {
		r.index[p.Name] = i
	}
	for i, p := range r.endings {
		r.ending[p.Name] = i
	}
	return r, nil
}
