// Package registry holds the ordered set of upstream endpoints. The order
// is fixed at startup and is the fallback order for every request.
package registry

import (
	"fmt"

	"github.com/rampart-ai/rampart/pkg/config"
)

// Endpoint is one upstream inference endpoint.
type Endpoint struct {
	Name    string
	URL     string
	APIKey  string
	Ordinal int
}

// Registry is the read-only endpoint set. It is safe for concurrent use
// without locking because it never changes after New.
type Registry struct {
	endpoints []Endpoint
}

// New builds a Registry from configuration. An empty endpoint set fails
// fast.
func New(eps []config.EndpointConfig) (*Registry, error) {
	if len(eps) == 0 {
		return nil, fmt.Errorf("registry: no endpoints configured")
	}
	endpoints := make([]Endpoint, len(eps))
	for i, ep := range eps {
		name := ep.Name
		if name == "" {
			name = fmt.Sprintf("endpoint-%d", i)
		}
		endpoints[i] = Endpoint{Name: name, URL: ep.URL, APIKey: ep.APIKey, Ordinal: i}
	}
	return &Registry{endpoints: endpoints}, nil
}

// List returns the endpoints in fallback order. Callers must not modify
// the returned slice.
func (r *Registry) List() []Endpoint {
	return r.endpoints
}
