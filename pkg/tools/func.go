package tools

import (
	"context"
	"encoding/json"

	"github.com/oceanbase/agentmem-go/pkg/core"
)

// FuncTool wraps a plain function as a Tool that touches no memory
// namespace, such as a calculator or a lookup.
type FuncTool struct {
	name        string
	description string
	parameters  map[string]interface{}
	fn          func(ctx context.Context, args json.RawMessage) (string, error)
}

// NewFunc builds a FuncTool. fn's string result is returned to the model in
// Result.Message; an error from fn is returned as a Go error.
func NewFunc(name, description string, parameters map[string]interface{}, fn func(ctx context.Context, args json.RawMessage) (string, error)) *FuncTool {
	if parameters == nil {
		parameters = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return &FuncTool{name: name, description: description, parameters: parameters, fn: fn}
}

func (t *FuncTool) Name() string                       { return t.name }
func (t *FuncTool) Description() string                { return t.description }
func (t *FuncTool) Parameters() map[string]interface{} { return t.parameters }

// Namespace is always nil.
func (t *FuncTool) Namespace() core.Namespace { return nil }

// Invoke calls the wrapped function.
func (t *FuncTool) Invoke(ctx context.Context, args json.RawMessage) (*Result, error) {
	out, err := t.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	return &Result{Status: "ok", Message: out}, nil
}
