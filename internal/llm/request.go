package llm

import (
	"fmt"
)

// Request is the normalized envelope sent to every provider.
type Request struct {
	Model       string       `json:"model,omitempty"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float32     `json:"temperature,omitempty"`
}

// NewRequest creates a new LLM request
func NewRequest(messages []Message, tools []ToolSchema) *Request {
	return &Request{
		Messages: messages,
		Tools:    tools,
	}
}

// WithModel sets the model
func (r *Request) WithModel(model string) *Request {
	r.Model = model
	return r
}

// WithTemperature sets the temperature parameter
func (r *Request) WithTemperature(temp float32) *Request {
	r.Temperature = &temp
	return r
}

// WithMaxTokens sets the max tokens parameter
func (r *Request) WithMaxTokens(tokens int) *Request {
	r.MaxTokens = tokens
	return r
}

// Validate checks if the request is valid
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	for i, msg := range r.Messages {
		if msg.Role == RoleTool && msg.ToolCallID == "" {
			return fmt.Errorf("message %d: tool message without tool_call_id", i)
		}
	}
	return nil
}

// SystemPrompt returns the content of the leading system messages joined
// together, for providers that take the instruction out of band.
func (r *Request) SystemPrompt() string {
	var out string
	for _, msg := range r.Messages {
		if msg.Role != RoleSystem {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += msg.Content
	}
	return out
}
