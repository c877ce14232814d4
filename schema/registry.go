package schema

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry holds validated models keyed by name. Registration order is
// preserved so listings and advertisement matching are deterministic.
type Registry struct {
	mu     sync.RWMutex
	models *orderedmap.OrderedMap[string, *Model]
}

func NewRegistry() *Registry {
	return &Registry{models: orderedmap.New[string, *Model]()}
}

// Default returns a registry preloaded with the built-in models.
func Default() *Registry {
	r := NewRegistry()
	if err := r.Register(OrpheCore()); err != nil {
		panic("schema: default registry: " + err.Error())
	}
	return r
}

// Register validates the model and adds it. Reusing a registered name
// replaces the earlier model in place.
func (r *Registry) Register(m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models.Set(m.Name, m)
	return nil
}

// Find returns the model registered under a name.
func (r *Registry) Find(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models.Get(name)
}

// MatchAdvertisement returns the first registered model matching an
// advertised device name, nil when none match.
func (r *Registry) MatchAdvertisement(name string) *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pair := r.models.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Matches(name) {
			return pair.Value
		}
	}
	return nil
}

// Models lists registered models in registration order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, r.models.Len())
	for pair := r.models.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
