package llm

import (
	"encoding/json"
	"fmt"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// SystemMessage builds a system instruction message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message, optionally carrying the tool
// calls it requested.
func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds the tool-role message that answers a tool call.
func ToolMessage(result ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    result.Content(),
		Name:       result.Name,
		ToolCallID: result.ToolCallID,
	}
}

// ToolCall represents a tool invocation requested by a provider.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsOrEmpty returns the raw arguments, or an empty JSON object.
func (tc ToolCall) ArgumentsOrEmpty() json.RawMessage {
	if len(tc.Arguments) == 0 {
		return json.RawMessage(`{}`)
	}
	return tc.Arguments
}

// ToolSchema describes a callable tool in provider-neutral form.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolFailure describes why a tool call did not produce a value.
type ToolFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToolResult is the outcome of one tool call. Exactly one of Value or
// Failure is meaningful.
type ToolResult struct {
	ToolCallID string       `json:"tool_call_id"`
	Name       string       `json:"name"`
	Value      any          `json:"value,omitempty"`
	Failure    *ToolFailure `json:"failure,omitempty"`
}

// OK reports whether the call succeeded.
func (r ToolResult) OK() bool {
	return r.Failure == nil
}

// Content renders the result as the text fed back to the model.
func (r ToolResult) Content() string {
	var payload any
	if r.Failure != nil {
		payload = map[string]any{"error": r.Failure}
	} else {
		payload = map[string]any{"result": r.Value}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error":{"kind":"tool_execution_failed","message":%q}}`, err.Error())
	}
	return string(b)
}

// Usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// TotalTokens returns the sum of prompt and completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// IsZero reports whether the provider returned no usage data.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0
}
