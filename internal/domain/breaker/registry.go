package breaker

import "sync"

// Registry holds one Breaker per named dependency, created lazily on
// first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a Registry that applies config to every breaker it
// creates.
func NewRegistry(config Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// GetOrCreate returns the named breaker, creating it with the registry's
// default config on first use.
func (r *Registry) GetOrCreate(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.config)
	r.breakers[name] = b
	return b
}

// Get returns the named breaker and whether it exists yet.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	return b, ok
}

// AllStats returns a snapshot of every registered breaker's stats, keyed
// by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Stats()
	}
	return out
}
