// Package source implements the provider fleet: one adapter per external
// content service, each translating that service's native schema into the
// common raw-mention shape. Adapters are best-effort translators; upstream
// schemas are outside our control, so missing fields get deterministic
// fallbacks and never abort a fetch.
package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// Source is the contract every adapter implements.
type Source interface {
	// Name returns the platform tag this adapter publishes under.
	Name() model.Platform

	// Enabled reports whether this adapter can run for the given brand
	// (credentials configured, feeds present, and so on).
	Enabled(brand model.TrackedBrand) bool

	// FetchMentions queries the external service and returns raw mentions.
	// Implementations tolerate partial upstream payloads; a best-effort
	// source may return an empty slice instead of an error when degraded.
	FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error)
}

// Registry holds the adapter fleet in registration order.
type Registry struct {
	sources map[model.Platform]Source
	order   []model.Platform
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[model.Platform]Source)}
}

// Register adds an adapter. Registering the same platform twice replaces the
// earlier adapter but keeps its position.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns the adapter for a platform.
func (r *Registry) Get(name model.Platform) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown platform %q", name)
	}
	return s, nil
}

// All returns every adapter in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// EnabledFor returns the adapters that can run for the given brand, in
// registration order.
func (r *Registry) EnabledFor(brand model.TrackedBrand) []Source {
	var out []Source
	for _, name := range r.order {
		if s := r.sources[name]; s.Enabled(brand) {
			out = append(out, s)
		}
	}
	return out
}
