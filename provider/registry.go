// Package provider defines the common contract between the router and the
// image generation backends.
//
// registry.go implements the provider registry: the set of backend adapters
// that initialized successfully at startup. The registry is populated once
// and read-only afterwards, so concurrent request handling needs no
// locking.
package provider

// Registry holds the initialized backend adapters by name. An adapter is
// absent when its backend was unreachable or uncredentialed at startup;
// absence is normal and routing degrades to whichever providers remain.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under its own Name. Registering the same name
// twice replaces the earlier adapter.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.providers)
}
