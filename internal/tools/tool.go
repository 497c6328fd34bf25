// Package tools holds the functions the model may call during a turn, the registry that
// describes them, and the executor that runs requested calls.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownTool is returned for calls naming a tool that was never registered.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Definition describes a tool to the model. Parameters is a JSON schema object.
type Definition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// Tool is a callable exposed to the model.
type Tool interface {
	Definition() Definition
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Func adapts a typed function to Tool. Arguments are decoded strictly into A and the
// schema's required properties must be present.
type Func[A any] struct {
	def Definition
	fn  func(context.Context, A) (string, error)
}

func NewFunc[A any](def Definition, fn func(context.Context, A) (string, error)) *Func[A] {
	if def.Parameters == nil {
		def.Parameters = ObjectSchema(nil)
	}
	return &Func[A]{def: def, fn: fn}
}

func (f *Func[A]) Definition() Definition { return f.def }

func (f *Func[A]) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var params A
	raw := bytes.TrimSpace(args)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := checkRequired(raw, f.def.Parameters); err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return "", fmt.Errorf("decode %s arguments: %w", f.def.Name, err)
	}
	return f.fn(ctx, params)
}

// NoArgs is the argument type of tools without parameters.
type NoArgs struct{}

// ObjectSchema builds a JSON schema object with the given properties, all of them required.
func ObjectSchema(props map[string]any) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	slices.Sort(required)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func checkRequired(raw []byte, schema map[string]any) error {
	required := requiredFields(schema)
	if len(required) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	for _, name := range required {
		if _, ok := obj[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	return nil
}

func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Registry maps tool names to implementations, keeping registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique and non-empty.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool is nil")
	}
	name := tool.Definition().Name
	if name == "" {
		return errors.New("tool name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Definitions lists tool schemas in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Close releases tools that hold resources, such as compiled wasm modules.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range r.order {
		if c, ok := r.tools[name].(interface{ Close(context.Context) error }); ok {
			errs = append(errs, c.Close(ctx))
		}
	}
	return errors.Join(errs...)
}
