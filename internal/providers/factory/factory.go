package factory

import (
	"context"
	"fmt"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/providers"
	"github.com/guiofsaints/procureflow-sub000/internal/providers/anthropic"
	"github.com/guiofsaints/procureflow-sub000/internal/providers/gemini"
	"github.com/guiofsaints/procureflow-sub000/internal/providers/local"
	"github.com/guiofsaints/procureflow-sub000/internal/providers/openai"
)

// CreateProvider creates a provider instance based on configuration
func CreateProvider(ctx context.Context, cfg llm.ProviderConfig) (llm.Provider, error) {
	switch cfg.Type {
	case "openai":
		return openai.NewProvider(cfg)
	case "anthropic":
		return anthropic.NewProvider(cfg)
	case "gemini":
		return gemini.NewProvider(ctx, cfg)
	case "openai-compatible", "ollama":
		// Ollama is OpenAI-compatible
		return local.NewOpenAICompatibleProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// Build creates every provider that has credentials and registers it in
// declared order. Providers without credentials are skipped; selection
// reports them when explicitly requested.
func Build(ctx context.Context, configs []llm.ProviderConfig) (*providers.Registry, []error) {
	registry := providers.NewRegistry()
	var skipped []error
	for _, cfg := range configs {
		if !cfg.HasCredentials() {
			registry.Declare(cfg)
			skipped = append(skipped, fmt.Errorf("provider %s: no credentials", cfg.Name))
			continue
		}
		p, err := CreateProvider(ctx, cfg)
		if err != nil {
			registry.Declare(cfg)
			skipped = append(skipped, fmt.Errorf("provider %s: %w", cfg.Name, err))
			continue
		}
		if err := registry.Register(p); err != nil {
			skipped = append(skipped, err)
		}
	}
	return registry, skipped
}
