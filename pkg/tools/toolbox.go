package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oceanbase/agentmem-go/pkg/core"
)

// Toolbox is the ordered set of tools one agent may call.
type Toolbox struct {
	tools []Tool
	index map[string]Tool
}

// NewToolbox builds a toolbox. Tool names must be unique.
func NewToolbox(tools ...Tool) (*Toolbox, error) {
	tb := &Toolbox{index: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := tb.index[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name())
		}
		tb.index[t.Name()] = t
		tb.tools = append(tb.tools, t)
	}
	return tb, nil
}

// With returns a new toolbox with extra appended.
func (tb *Toolbox) With(extra ...Tool) (*Toolbox, error) {
	return NewToolbox(append(tb.Tools(), extra...)...)
}

// Tools returns the tools in registration order.
func (tb *Toolbox) Tools() []Tool {
	return append([]Tool(nil), tb.tools...)
}

// Get looks a tool up by name.
func (tb *Toolbox) Get(name string) (Tool, bool) {
	t, ok := tb.index[name]
	return t, ok
}

// Len returns the number of tools.
func (tb *Toolbox) Len() int {
	return len(tb.tools)
}

// SearchTools returns the search tools, used for recall before a turn.
func (tb *Toolbox) SearchTools() []*SearchTool {
	var out []*SearchTool
	for _, t := range tb.tools {
		if st, ok := t.(*SearchTool); ok {
			out = append(out, st)
		}
	}
	return out
}

// ManageTools returns the manage tools.
func (tb *Toolbox) ManageTools() []*ManageTool {
	var out []*ManageTool
	for _, t := range tb.tools {
		if mt, ok := t.(*ManageTool); ok {
			out = append(out, mt)
		}
	}
	return out
}

// Namespaces lists the distinct namespaces reachable through the toolbox.
func (tb *Toolbox) Namespaces() []core.Namespace {
	seen := make(map[string]bool)
	var out []core.Namespace
	for _, t := range tb.tools {
		ns := t.Namespace()
		if len(ns) == 0 {
			continue
		}
		if !seen[ns.String()] {
			seen[ns.String()] = true
			out = append(out, ns)
		}
	}
	return out
}

// Definitions describes every tool for a prompt.
func (tb *Toolbox) Definitions() []Definition {
	out := make([]Definition, 0, len(tb.tools))
	for _, t := range tb.tools {
		out = append(out, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Describe renders one line per tool.
func (tb *Toolbox) Describe() string {
	var b strings.Builder
	for _, t := range tb.tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	return b.String()
}

// Invoke runs the named tool. An unknown name yields an unknown_tool result
// rather than an error, since the name comes from the model.
func (tb *Toolbox) Invoke(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	t, ok := tb.index[name]
	if !ok {
		return errorResult(CodeUnknownTool, fmt.Sprintf("no tool named %q", name)), nil
	}
	return t.Invoke(ctx, args)
}
