package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pario-ai/parley/pkg/provider"
)

// ErrUnknownProvider is returned when a requested name matches neither a
// registered provider nor an alias.
var ErrUnknownProvider = errors.New("unknown provider")

// All expands to every registered provider.
const All = "all"

// Router resolves requested provider names to registered providers.
type Router struct {
	registry *provider.Registry
	aliases  map[string]string
	defaults []string
}

// New creates a Router. aliases maps short names to provider IDs; defaults
// is used when a request names no providers.
func New(registry *provider.Registry, aliases map[string]string, defaults []string) *Router {
	return &Router{registry: registry, aliases: aliases, defaults: defaults}
}

// Resolve returns the providers for names in request order with duplicates
// removed. Names are matched against provider IDs first and aliases second,
// falling back to lower case. An empty list resolves the configured defaults and
// may yield no providers.
func (r *Router) Resolve(names []string) ([]provider.Provider, error) {
	if len(names) == 0 {
		names = r.defaults
	}

	seen := make(map[string]bool, len(names))
	var out []provider.Provider
	add := func(p provider.Provider) {
		if !seen[p.ID()] {
			seen[p.ID()] = true
			out = append(out, p)
		}
	}

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if strings.EqualFold(name, All) {
			for _, id := range r.registry.IDs() {
				p, _ := r.registry.Get(id)
				add(p)
			}
			continue
		}
		p, ok := r.lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
		}
		add(p)
	}
	return out, nil
}

func (r *Router) lookup(name string) (provider.Provider, bool) {
	for _, n := range []string{name, strings.ToLower(name)} {
		if p, ok := r.registry.Get(n); ok {
			return p, true
		}
		if target, ok := r.aliases[n]; ok {
			return r.registry.Get(target)
		}
	}
	return nil, false
}
