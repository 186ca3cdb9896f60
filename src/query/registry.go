package query

import (
	"sort"
	"sync"

	"git.handmade.network/hmn/sqlrt/src/oops"
)

// A Registry indexes definitions by name. Generated packages register their
// queries at init time so that tools like the migrate command can list them.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]*Definition{}}
}

func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if def == nil {
			return oops.New(nil, "cannot register a nil query definition")
		}
		if existing, ok := r.defs[def.Name]; ok && existing != def {
			return oops.New(nil, "query %s is already registered", def.Name)
		}
		r.defs[def.Name] = def
	}
	return nil
}

func (r *Registry) MustRegister(defs ...*Definition) {
	if err := r.Register(defs...); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	return def, ok
}

// Returns every definition, sorted by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		res = append(res, def)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res
}

// Default is the registry generated packages register into.
var Default = NewRegistry()
