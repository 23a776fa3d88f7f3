package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponse_Validate(t *testing.T) {
	tests := []struct {
		name    string
		resp    Response
		wantErr bool
	}{
		{name: "text only", resp: Response{Text: "hello"}},
		{name: "tool calls only", resp: Response{ToolCalls: []ToolCall{{ID: "1", Name: "view_cart"}}}},
		{name: "neither", resp: Response{}, wantErr: true},
		{name: "whitespace text", resp: Response{Text: "\n "}, wantErr: true},
		{name: "nameless tool call", resp: Response{ToolCalls: []ToolCall{{ID: "1"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToolResult_Content(t *testing.T) {
	ok := ToolResult{ToolCallID: "c1", Name: "view_cart", Value: map[string]int{"items": 2}}
	assert.JSONEq(t, `{"result":{"items":2}}`, ok.Content())
	assert.True(t, ok.OK())

	failed := ToolResult{ToolCallID: "c2", Name: "checkout", Failure: &ToolFailure{Kind: "tool_timeout", Message: "timed out"}}
	assert.JSONEq(t, `{"error":{"kind":"tool_timeout","message":"timed out"}}`, failed.Content())

	msg := ToolMessage(failed)
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "c2", msg.ToolCallID)
	assert.Equal(t, "checkout", msg.Name)
}
