package dataset

import (
	"fmt"
	"sort"

	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// Registry holds the enabled kinds in registration order.
type Registry struct {
	kinds map[workqueue.Kind]Kind
	order []workqueue.Kind
}

// NewRegistry registers kinds in the order given.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{kinds: make(map[workqueue.Kind]Kind)}
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a kind. Names must be unique.
func (r *Registry) Register(k Kind) error {
	name := k.Name()
	if _, dup := r.kinds[name]; dup {
		return fmt.Errorf("dataset kind %q registered twice", name)
	}
	r.kinds[name] = k
	r.order = append(r.order, name)
	return nil
}

// Get returns the kind registered under name.
func (r *Registry) Get(name string) (Kind, error) {
	k, ok := r.kinds[workqueue.Kind(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownKind, name, r.Names())
	}
	return k, nil
}

// Kinds returns every kind in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.kinds[name])
	}
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, n := range r.order {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}

// Constructor builds a kind from its settings.
type Constructor func(Settings, Deps) Kind

// Builtin lists the kinds this module knows how to build.
var Builtin = map[string]Constructor{
	string(KindDumps):        func(s Settings, d Deps) Kind { return NewDumps(s, d) },
	string(KindCirrusSearch): func(s Settings, d Deps) Kind { return NewCirrusSearch(s, d) },
	string(KindMediaCounts):  func(s Settings, d Deps) Kind { return NewMediaCounts(s, d) },
}

// Build constructs the named builtin kind.
func Build(name string, s Settings, d Deps) (Kind, error) {
	ctor, ok := Builtin[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return ctor(s, d), nil
}
