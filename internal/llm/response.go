package llm

import (
	"strings"

	"github.com/google/uuid"
)

// Response is the normalized envelope every provider returns. After
// Validate, exactly one of Text or ToolCalls is populated.
type Response struct {
	ID           string     `json:"id,omitempty"`
	Model        string     `json:"model"`
	Text         string     `json:"text,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage      `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// HasToolCalls checks if the response contains tool calls
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Validate enforces the envelope shape. Tool calls take precedence over any
// accompanying text; calls without an ID get one so results can be paired.
func (r *Response) Validate() error {
	if r.HasToolCalls() {
		r.Text = ""
		for i := range r.ToolCalls {
			if strings.TrimSpace(r.ToolCalls[i].Name) == "" {
				return errEmptyToolName
			}
			if r.ToolCalls[i].ID == "" {
				r.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
		}
		return nil
	}
	if strings.TrimSpace(r.Text) == "" {
		return errEmptyResponse
	}
	return nil
}
