package providers

import (
	"fmt"
	"sync"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
)

// Select chooses the provider for a turn from configuration alone. An
// explicit override must name a known, credentialed, tool-capable provider;
// otherwise the first such provider in declared order wins.
func Select(configs []llm.ProviderConfig, override string) (llm.ProviderConfig, error) {
	if override != "" {
		for _, cfg := range configs {
			if cfg.Name != override {
				continue
			}
			if err := usable(cfg); err != nil {
				return llm.ProviderConfig{}, err
			}
			return cfg, nil
		}
		return llm.ProviderConfig{}, errx.Provider(errx.Unavailable, override, "unknown provider",
			fmt.Errorf("provider %q is not configured", override))
	}

	for _, cfg := range configs {
		if usable(cfg) == nil {
			return cfg, nil
		}
	}
	return llm.ProviderConfig{}, errx.New(errx.Unavailable, "no provider with credentials and tool calling is configured")
}

func usable(cfg llm.ProviderConfig) error {
	if !cfg.HasCredentials() {
		return errx.Provider(errx.AuthFailure, cfg.Name, "provider has no credentials configured", nil)
	}
	if !cfg.SupportsToolCalling {
		return errx.Provider(errx.Unavailable, cfg.Name, "provider does not support tool calling", nil)
	}
	return nil
}

// Registry holds the providers built at startup, in declared order.
type Registry struct {
	providers map[string]llm.Provider
	configs   []llm.ProviderConfig
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]llm.Provider),
	}
}

// Register adds a provider to the registry. Names must be unique.
func (r *Registry) Register(provider llm.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	if !r.declared(name) {
		r.configs = append(r.configs, provider.Config())
	}
	return nil
}

// Declare records a configured provider that could not be built, so that
// selection still sees it in declared order.
func (r *Registry) Declare(cfg llm.ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.declared(cfg.Name) {
		r.configs = append(r.configs, cfg)
	}
}

func (r *Registry) declared(name string) bool {
	for _, cfg := range r.configs {
		if cfg.Name == name {
			return true
		}
	}
	return false
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (llm.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Select resolves the provider to use, honouring an optional override.
func (r *Registry) Select(override string) (llm.Provider, error) {
	r.mu.RLock()
	configs := append([]llm.ProviderConfig(nil), r.configs...)
	r.mu.RUnlock()

	cfg, err := Select(configs, override)
	if err != nil {
		return nil, err
	}
	p, ok := r.Get(cfg.Name)
	if !ok {
		return nil, errx.Provider(errx.Unavailable, cfg.Name, "provider failed to initialize", nil)
	}
	return p, nil
}

// Configs returns the registered configurations in declared order
func (r *Registry) Configs() []llm.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]llm.ProviderConfig(nil), r.configs...)
}

// List returns all registered provider names in declared order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for _, cfg := range r.configs {
		names = append(names, cfg.Name)
	}
	return names
}
