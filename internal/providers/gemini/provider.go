package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/providers"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// Provider implements the Gemini provider
type Provider struct {
	config llm.ProviderConfig
	client *genai.Client
}

// NewProvider creates a new Gemini provider. Client construction does no I/O.
func NewProvider(ctx context.Context, cfg llm.ProviderConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	return &Provider{config: cfg, client: client}, nil
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
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	contents, config := ConvertRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, mapError(p.config.Name, err)
	}

	out, err := ConvertResponse(resp)
	if err != nil {
		return nil, providers.MalformedError(p.config.Name, err)
	}
	out.Model = model
	return out, nil
}

func mapError(provider string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.StatusError(provider, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return providers.StatusError(provider, apiErrPtr.Code, apiErrPtr.Message, err)
	}
	return providers.TransportError(provider, err)
}

// ConvertRequest converts the shared envelope to Gemini contents and config.
// Assistant turns use the "model" role; tool results are function responses
// grouped into a single user turn.
func ConvertRequest(req *llm.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system := req.SystemPrompt(); system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		var role string
		var parts []*genai.Part

		switch msg.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleAssistant:
			role = roleModel
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: argsMap(tc.ArgumentsOrEmpty()),
				}})
			}
		case llm.RoleTool:
			role = roleUser
			parts = []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.Name,
				Response: responseMap(msg.Content),
			}}}
		default:
			role = roleUser
			parts = []*genai.Part{{Text: msg.Content}}
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	return contents, config
}

// ConvertResponse converts a Gemini response to the shared envelope
func ConvertResponse(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("response has no candidates")
	}
	candidate := resp.Candidates[0]

	out := &llm.Response{FinishReason: strings.ToLower(string(candidate.FinishReason))}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("encode function args: %w", err)
			}
			if part.FunctionCall.Args == nil {
				args = []byte(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
			continue
		}
		text.WriteString(part.Text)
	}
	out.Text = text.String()

	return out, nil
}

func argsMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func responseMap(content string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err != nil || m == nil {
		return map[string]any{"output": content}
	}
	return m
}
