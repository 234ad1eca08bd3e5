// Package source defines the uniform lookup contract every enrichment
// provider implements, and the registry the cascade draws adapters
// from. An adapter wraps one external provider (knowledge base, search
// engine, obituary site, LLM) behind Lookup; faults never escape that
// boundary, they come back as failed attempts the cascade can record
// and move past.
package source

import (
	"context"
	"sync"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

// Adapter is the cascade's view of one external provider.
type Adapter interface {
	// Name is the stable identifier used in provenance, config, and logs.
	Name() string

	// Type tags what kind of provider this is.
	Type() model.SourceType

	// Category groups the adapter for cost gating and circuit breaking.
	Category() model.SourceCategory

	// Free reports whether calls cost nothing.
	Free() bool

	// EstimatedCost is the declared per-lookup estimate in USD, checked
	// against the cost ledger before any call is issued.
	EstimatedCost() float64

	// Available reports whether the adapter can be called at all
	// (credentials present, client configured).
	Available() bool

	// Lookup queries the provider for the subject's cause of death.
	// It never returns an error: faults become failed attempt results.
	Lookup(ctx context.Context, subject model.Subject) model.SourceAttemptResult
}

// Registry holds registered adapters. Registration order is the
// default cascade priority order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Adapter
	order  []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Adapter)}
}

// Register adds an adapter. Re-registering a name replaces the adapter
// but keeps its position in the order.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// Ordered returns all adapters in registration order.
func (r *Registry) Ordered() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns registered adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
