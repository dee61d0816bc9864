package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds providers keyed by name. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ErrProviderNotFound)
	}
	return p, nil
}

// Resolve returns the provider and effective model for a request. An
// empty model falls back to the provider's default; a model the
// provider does not recognize is an error rather than a silent
// mis-bill.
func (r *Registry) Resolve(name, model string) (Provider, string, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		return p, p.DefaultModel(), nil
	}
	if !p.SupportsModel(model) {
		return nil, "", fmt.Errorf("provider %q does not support model %q", name, model)
	}
	return p, model, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
