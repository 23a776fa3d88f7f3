package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/providers"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider implements the Anthropic provider
type Provider struct {
	config   llm.ProviderConfig
	endpoint string
	client   *http.Client
}

// AnthropicRequest represents a request to Anthropic's API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
}

// AnthropicMessage represents a message in Anthropic format
type AnthropicMessage struct {
	Role    string             `json:"role"`
	Content []AnthropicContent `json:"content"`
}

// AnthropicContent represents a content block in a message
type AnthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// AnthropicTool represents a tool definition
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// AnthropicResponse represents a response from Anthropic's API
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []AnthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason,omitempty"`
	Usage      AnthropicUsage     `json:"usage"`
}

// AnthropicUsage represents token usage
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Option configures the provider
type Option func(*Provider)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// NewProvider creates a new Anthropic provider
func NewProvider(cfg llm.ProviderConfig, opts ...Option) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	p := &Provider{
		config:   cfg,
		endpoint: anthropicAPIURL,
		client:   &http.Client{},
	}
	if cfg.BaseURL != "" {
		p.endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1/messages"
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.config.Name
}

// Config returns the provider configuration
func (p *Provider) Config() llm.ProviderConfig {
	return p.config
}

// Complete performs a non-streaming completion
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	anthropicReq := ConvertRequest(p.config.Model, req)

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, providers.RequestError(p.config.Name, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, providers.RequestError(p.config.Name, fmt.Errorf("build request: %w", err))
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(p.config.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.TransportError(p.config.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Type + ": " + apiErr.Error.Message
		}
		return nil, providers.StatusError(p.config.Name, resp.StatusCode, msg, nil)
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, providers.MalformedError(p.config.Name, err)
	}

	return ConvertResponse(&anthropicResp), nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

// ConvertRequest converts the shared envelope to an Anthropic request. The
// system prompt travels out of band and tool results ride in user turns;
// consecutive turns of the same role are merged.
func ConvertRequest(model string, req *llm.Request) AnthropicRequest {
	if req.Model != "" {
		model = req.Model
	}
	anthropicReq := AnthropicRequest{
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		System:      req.SystemPrompt(),
	}
	if req.MaxTokens > 0 {
		anthropicReq.MaxTokens = req.MaxTokens
	}

	var messages []AnthropicMessage
	for _, msg := range req.Messages {
		var role string
		var content []AnthropicContent

		switch msg.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleTool:
			role = "user"
			content = []AnthropicContent{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}}
		case llm.RoleAssistant:
			role = "assistant"
			if msg.Content != "" {
				content = append(content, AnthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, AnthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.ArgumentsOrEmpty(),
				})
			}
		default:
			role = "user"
			content = []AnthropicContent{{Type: "text", Text: msg.Content}}
		}

		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, content...)
			continue
		}
		messages = append(messages, AnthropicMessage{Role: role, Content: content})
	}
	anthropicReq.Messages = messages

	for _, tool := range req.Tools {
		anthropicReq.Tools = append(anthropicReq.Tools, AnthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	return anthropicReq
}

// ConvertResponse converts an Anthropic response to the shared envelope
func ConvertResponse(resp *AnthropicResponse) *llm.Response {
	out := &llm.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: convertStopReason(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "tool_use":
			args := content.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: args,
			})
		}
	}
	out.Text = text.String()

	return out
}

func convertStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}
