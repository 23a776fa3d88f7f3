package llm

import (
	"context"
	"time"
)

// Provider is the interface that all LLM providers must implement. Complete
// returns provider failures as *errx.Error values of the provider category.
type Provider interface {
	// Name returns the configured provider name
	Name() string

	// Config returns the immutable configuration the provider was built from
	Config() ProviderConfig

	// Complete performs a non-streaming completion
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ProviderConfig contains configuration for a provider
type ProviderConfig struct {
	Name    string `json:"name"`
	Type    string `json:"type"` // openai, anthropic, gemini, openai-compatible
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`

	// Rate limiting
	RPMLimit int           `json:"rpm_limit,omitempty"` // Requests per minute
	Burst    int           `json:"burst,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`

	SupportsToolCalling bool `json:"supports_tool_calling"`
}

// HasCredentials reports whether the provider can be called. Local
// OpenAI-compatible servers need only a base URL.
func (c ProviderConfig) HasCredentials() bool {
	if c.Type == "openai-compatible" || c.Type == "ollama" {
		return c.BaseURL != ""
	}
	return c.APIKey != ""
}
