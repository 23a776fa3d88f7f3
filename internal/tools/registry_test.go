package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, args json.RawMessage) (any, error) {
	return string(args), nil
}

var quantitySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"itemId":   map[string]any{"type": "string", "minLength": 1},
		"quantity": map[string]any{"type": "integer", "minimum": 1},
	},
	"required":             []string{"itemId", "quantity"},
	"additionalProperties": false,
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("add_to_cart", "Add an item", quantitySchema, echo))
	require.NoError(t, r.Register("view_cart", "Show the cart", nil, echo))

	assert.Error(t, r.Register("add_to_cart", "again", nil, echo), "duplicate")
	assert.Error(t, r.Register("", "nameless", nil, echo))
	assert.Error(t, r.Register("nil_handler", "", nil, nil))
	assert.Error(t, r.Register("bad_schema", "", map[string]any{"type": 12}, echo))

	assert.True(t, r.Has("view_cart"))
	assert.False(t, r.Has("delete_everything"))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "add_to_cart", defs[0].Name)
	assert.Equal(t, "view_cart", defs[1].Name)
	assert.Equal(t, "object", defs[1].Parameters["type"])
}

func TestTool_Validate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("add_to_cart", "Add an item", quantitySchema, echo))
	tool, ok := r.Get("add_to_cart")
	require.True(t, ok)

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{"valid", `{"itemId":"laptop-01","quantity":2}`, false},
		{"missing quantity", `{"itemId":"laptop-01"}`, true},
		{"zero quantity", `{"itemId":"laptop-01","quantity":0}`, true},
		{"fractional quantity", `{"itemId":"laptop-01","quantity":1.5}`, true},
		{"wrong type", `{"itemId":7,"quantity":1}`, true},
		{"extra field", `{"itemId":"a","quantity":1,"discount":50}`, true},
		{"not json", `{oops`, true},
		{"json string", `"add laptop"`, true},
		{"empty means empty object", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.Validate(json.RawMessage(tt.args))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUserFromContext(t *testing.T) {
	assert.Equal(t, "", UserFromContext(context.Background()))
	assert.Equal(t, "user-1", UserFromContext(WithUser(context.Background(), "user-1")))

	assert.Equal(t, "user-1", IdentifiedUser(WithUser(context.Background(), "user-1")))
	assert.Equal(t, "", IdentifiedUser(WithUser(context.Background(), AnonymousUser)))
	assert.Equal(t, "", IdentifiedUser(context.Background()))
}
