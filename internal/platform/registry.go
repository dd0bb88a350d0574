package platform

import "github.com/kalambet/replyd/internal/domain"

// Registry holds the adapters for every configured platform.
type Registry struct {
	adapters map[domain.Platform]Adapter
}

// NewRegistry creates a Registry. A later adapter for the same platform
// replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Platform().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

// Get returns the adapter for p.
func (r *Registry) Get(p domain.Platform) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// List returns the adapters in the stable domain.Platforms order.
func (r *Registry) List() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, p := range domain.Platforms {
		if a, ok := r.adapters[p]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of configured platforms.
func (r *Registry) Len() int { return len(r.adapters) }
