package local

import (
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	openaiprovider "github.com/guiofsaints/procureflow-sub000/internal/providers/openai"
)

// NewOpenAICompatibleProvider creates a provider for servers that speak the
// OpenAI chat completions API (Ollama, LM Studio, vLLM).
func NewOpenAICompatibleProvider(cfg llm.ProviderConfig) (*openaiprovider.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required for OpenAI-compatible provider")
	}

	// Local servers usually ignore the key but the client requires one.
	apiKey := "dummy-key"
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = APIBaseURL(cfg.BaseURL)

	return openaiprovider.NewWithClientConfig(cfg, clientConfig), nil
}

// APIBaseURL normalizes a server address to its /v1 API root.
func APIBaseURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}
