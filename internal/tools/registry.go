// Package tools holds the tools a model may call and runs them safely.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
)

// Handler executes a tool with validated JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a registered tool
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler

	schema *jsonschema.Schema
}

// Validate checks arguments against the tool's parameter schema.
func (t *Tool) Validate(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := t.schema.Validate(v); err != nil {
		return err
	}
	return nil
}

// Registry keeps the mapping between tool names and implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the parameter schema and adds the tool when its name is
// not in use.
func (r *Registry) Register(name, description string, parameters map[string]any, handler Handler) error {
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}
	if parameters == nil {
		parameters = map[string]any{"type": "object"}
	}

	schema, err := compileSchema(name, parameters)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = &Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Handler:     handler,
		schema:      schema,
	}
	return nil
}

func compileSchema(name string, parameters map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}

	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compiling schema: %w", name, err)
	}
	return schema, nil
}

// Get fetches a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Definitions returns the provider-facing schemas sorted by name.
func (r *Registry) Definitions() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
