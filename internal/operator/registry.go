package operator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/track"
)

// ErrUnknownType is returned when no constructor is registered for a type.
var ErrUnknownType = errors.New("unknown operator type")

// Deps carries the process-wide collaborators an operator may need. It is
// built once at startup and passed to every constructor.
type Deps struct {
	Models *model.Registry
	Tracks track.Sink
}

// Constructor builds an operator named name from params.
type Constructor func(name string, params Params, deps Deps) (Operator, error)

// Registry maps operator type strings to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor. Registering the same type twice replaces the
// earlier constructor.
func (r *Registry) Register(typ string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[typ] = ctor
}

// Create builds an operator of the given type.
func (r *Registry) Create(typ, name string, params Params, deps Deps) (Operator, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	op, err := ctor(name, params, deps)
	if err != nil {
		return nil, fmt.Errorf("create %s %q: %w", typ, name, err)
	}
	return op, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
