package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/providers"
)

// Provider implements the OpenAI provider
type Provider struct {
	config llm.ProviderConfig
	client *openai.Client
}

// NewProvider creates a new OpenAI provider
func NewProvider(cfg llm.ProviderConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return NewWithClientConfig(cfg, clientConfig), nil
}

// NewWithClientConfig creates a provider speaking the OpenAI wire format to
// the endpoint described by clientConfig.
func NewWithClientConfig(cfg llm.ProviderConfig, clientConfig openai.ClientConfig) *Provider {
	return &Provider{
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.config.Name
}

// Config returns the provider configuration
func (p *Provider) Config() llm.ProviderConfig {
	return p.config
}

// Client exposes the underlying API client
func (p *Provider) Client() *openai.Client {
	return p.client
}

// Complete performs a non-streaming completion
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	resp, err := p.client.CreateChatCompletion(ctx, ConvertRequest(model, req))
	if err != nil {
		return nil, MapError(p.config.Name, err)
	}

	out, err := ConvertResponse(&resp)
	if err != nil {
		return nil, providers.MalformedError(p.config.Name, err)
	}
	return out, nil
}

// MapError converts go-openai errors into provider failures.
func MapError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return providers.StatusError(provider, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return providers.StatusError(provider, reqErr.HTTPStatusCode, "request failed", err)
	}
	return providers.TransportError(provider, err)
}

// ConvertRequest converts the shared request envelope to the OpenAI format
func ConvertRequest(model string, req *llm.Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			messages[i].ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				messages[i].ToolCalls[j] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.ArgumentsOrEmpty()),
					},
				}
			}
		}

		if msg.Role == llm.RoleTool {
			messages[i].ToolCallID = msg.ToolCallID
			messages[i].Name = msg.Name
		}
	}

	openAIReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	if req.Temperature != nil {
		openAIReq.Temperature = *req.Temperature
	}

	for _, tool := range req.Tools {
		openAIReq.Tools = append(openAIReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return openAIReq
}

// ConvertResponse converts an OpenAI response to the shared envelope
func ConvertResponse(resp *openai.ChatCompletionResponse) (*llm.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response %s has no choices", resp.ID)
	}
	choice := resp.Choices[0]

	out := &llm.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}

	return out, nil
}

// rawArguments keeps model-produced arguments as JSON. Text that is not JSON
// is carried as a JSON string so schema validation rejects it later.
func rawArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	b, _ := json.Marshal(args)
	return b
}
