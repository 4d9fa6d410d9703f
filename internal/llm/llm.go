// Package llm holds the generation-provider contract the pipeline stages call, the prompt
// registry, and the ordered-fallback parsers that turn a provider Result into typed values.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Request is one structured generation call. Schema is a JSON Schema object; providers that
// cannot enforce it still receive it as guidance and answer in RawText.
type Request struct {
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
	// Model overrides the provider's configured default when non-empty.
	Model string
}

// Result carries the schema-conformant object when the provider produced one, and the raw
// text it returned either way.
type Result struct {
	Structured map[string]any
	RawText    string
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// Router picks a Provider by the name persisted on a channel document.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

func NewRouter(fallback string, providers ...Provider) *Router {
	r := &Router{providers: map[string]Provider{}, fallback: normalize(fallback)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Router) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalize(p.Name())] = p
	if r.fallback == "" {
		r.fallback = normalize(p.Name())
	}
}

// Resolve returns the named provider, or the fallback when name is blank or unknown.
func (r *Router) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[normalize(name)]; ok {
		return p, nil
	}
	if p, ok := r.providers[r.fallback]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("llm: no provider for %q (configured: %s)", name, strings.Join(r.namesLocked(), ","))
}

func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Router) namesLocked() []string {
	out := make([]string, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
