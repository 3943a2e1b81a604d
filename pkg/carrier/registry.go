package carrier

import (
	"fmt"
	"sync"
)

// Registry manages registered carriers. Carriers are registered at startup
// and the registry is read-only afterwards.
type Registry struct {
	carriers map[string]Carrier
	order    []string
	mu       sync.RWMutex
}

// NewRegistry creates a new carrier registry.
func NewRegistry(carriers ...Carrier) *Registry {
	r := &Registry{
		carriers: make(map[string]Carrier),
	}
	for _, c := range carriers {
		r.Register(c)
	}
	return r
}

// Register adds a carrier to the registry. Registering an id twice replaces
// the earlier carrier but keeps its position.
func (r *Registry) Register(c Carrier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carriers[c.ID()]; !ok {
		r.order = append(r.order, c.ID())
	}
	r.carriers[c.ID()] = c
}

// Get returns a carrier by id.
func (r *Registry) Get(id string) (Carrier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.carriers[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCarrier, id)
}

// All returns all registered carriers in registration order.
func (r *Registry) All() []Carrier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Carrier, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.carriers[id])
	}
	return result
}

// Enabled returns the enabled carriers in registration order.
func (r *Registry) Enabled() []Carrier {
	all := r.All()
	result := make([]Carrier, 0, len(all))
	for _, c := range all {
		if c.IsEnabled() {
			result = append(result, c)
		}
	}
	return result
}

// IDs returns the ids of all registered carriers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns the number of registered carriers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.carriers)
}
