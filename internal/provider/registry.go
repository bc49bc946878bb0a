// Package provider maintains the set of configured model backends and
// their runtime enable state.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vedprakash-m/vigor-llm-engine/internal/config"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	anthropicprovider "github.com/vedprakash-m/vigor-llm-engine/internal/provider/anthropic"
	openaiprovider "github.com/vedprakash-m/vigor-llm-engine/internal/provider/openai"
)

type entry struct {
	provider domain.Provider
	enabled  bool
}

// Registry holds the configured providers. Enable/disable takes effect on
// the next routing decision without a restart.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Build constructs a registry from provider configuration, instantiating
// the vendor adapter for each entry.
func Build(cfgs []config.ProviderConfig) (*Registry, error) {
	r := NewRegistry()
	for _, pc := range cfgs {
		desc := domain.ProviderDescriptor{
			ID:              pc.ID,
			Vendor:          pc.Vendor,
			Model:           pc.Model,
			Enabled:         pc.IsEnabled(),
			Temperature:     pc.Temperature,
			TopP:            pc.TopP,
			MaxTokens:       pc.MaxTokens,
			Deterministic:   pc.Deterministic,
			Capabilities:    pc.Capabilities,
			InputCostPer1K:  pc.InputCostPer1K,
			OutputCostPer1K: pc.OutputCostPer1K,
		}

		var p domain.Provider
		switch pc.Vendor {
		case "openai":
			var opts []openaiprovider.ProviderOption
			if pc.BaseURL != "" {
				opts = append(opts, openaiprovider.WithBaseURL(pc.BaseURL))
			}
			p = openaiprovider.New(desc, pc.APIKey, opts...)
		case "anthropic":
			var opts []anthropicprovider.ProviderOption
			if pc.BaseURL != "" {
				opts = append(opts, anthropicprovider.WithBaseURL(pc.BaseURL))
			}
			p = anthropicprovider.New(desc, pc.APIKey, opts...)
		default:
			return nil, fmt.Errorf("unknown provider vendor: %s", pc.Vendor)
		}

		if err := r.Register(p, pc.IsEnabled()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider to the registry.
func (r *Registry) Register(p domain.Provider, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("provider %s already registered", id)
	}
	r.entries[id] = &entry{provider: p, enabled: enabled}
	r.order = append(r.order, id)
	return nil
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// SetEnabled toggles a provider without restarting the engine.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("provider %s not registered", id)
	}
	e.enabled = enabled
	return nil
}

// IsEnabled reports a provider's current enable state.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.enabled
}

// All returns every registered provider in registration order.
func (r *Registry) All() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].provider)
	}
	return out
}

// Enabled returns the providers currently eligible for routing.
func (r *Registry) Enabled() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; e.enabled {
			out = append(out, e.provider)
		}
	}
	return out
}

// Descriptors returns descriptor snapshots with the live enable state
// overlaid, sorted by id for stable admin output.
func (r *Registry) Descriptors() []domain.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProviderDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		d := e.provider.Descriptor()
		d.Enabled = e.enabled
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
