// Package agent runs a memory-aware worker: before each turn it recalls
// memories through its search tools, then drives a bounded tool-call loop
// against the model.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/session"
	"github.com/oceanbase/agentmem-go/pkg/tools"
)

// DefaultMaxSteps bounds model calls per turn.
const DefaultMaxSteps = 10

// Result is the outcome of one turn.
type Result struct {
	Agent  string
	Output string

	// Complete is false when the agent reports it could not finish the task
	// or ran out of steps.
	Complete bool

	Steps     int
	ToolCalls []ToolCall
}

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
	Result    *tools.Result
}

// Agent is a named worker bound to a toolbox.
type Agent struct {
	name        string
	role        string
	description string
	llm         llm.Provider
	toolbox     *tools.Toolbox
	maxSteps    int
	recall      int
	logger      *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithDescription is shown to the supervisor when routing.
func WithDescription(d string) Option {
	return func(a *Agent) { a.description = d }
}

// WithMaxSteps bounds model calls per turn.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithRecall sets how many memories are recalled per namespace. Default 5.
func WithRecall(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.recall = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an agent. role completes "You are a helpful ..." in the system
// prompt. toolbox may be nil for an agent without tools.
func New(name, role string, p llm.Provider, toolbox *tools.Toolbox, opts ...Option) *Agent {
	if toolbox == nil {
		toolbox, _ = tools.NewToolbox()
	}
	a := &Agent{
		name:     name,
		role:     role,
		llm:      p,
		toolbox:  toolbox,
		maxSteps: DefaultMaxSteps,
		recall:   5,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.description == "" {
		a.description = role
	}
	a.logger = a.logger.Named("agent").With(zap.String("agent", name))
	return a
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the routing description.
func (a *Agent) Description() string { return a.description }

// Toolbox returns the agent's tools.
func (a *Agent) Toolbox() *tools.Toolbox { return a.toolbox }

// reply is the JSON protocol the model answers in.
type reply struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Answer    *string         `json:"answer"`
	Complete  *bool           `json:"complete"`
}

// Run answers the latest user message in sess and appends the answer to it.
func (a *Agent) Run(ctx context.Context, sess *session.Session) (*Result, error) {
	ctx = session.NewContext(ctx, sess)

	system := a.SystemPrompt(ctx, sess.LastUserMessage())
	msgs := append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, sess.Messages()...)

	res := &Result{Agent: a.name}
	for res.Steps < a.maxSteps {
		res.Steps++
		raw, err := a.llm.Complete(ctx, msgs)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.name, err)
		}

		var r reply
		if err := llm.DecodeJSON(raw, &r); err != nil || (r.Tool == "" && r.Answer == nil) {
			// Plain text is a final answer.
			return a.finish(sess, res, strings.TrimSpace(raw), true), nil
		}
		if r.Tool == "" {
			complete := r.Complete == nil || *r.Complete
			return a.finish(sess, res, *r.Answer, complete), nil
		}

		out, err := a.toolbox.Invoke(ctx, r.Tool, r.Arguments)
		if err != nil {
			return nil, fmt.Errorf("agent %s: tool %s: %w", a.name, r.Tool, err)
		}
		a.logger.Debug("tool call", zap.String("tool", r.Tool), zap.String("status", out.Status))
		res.ToolCalls = append(res.ToolCalls, ToolCall{Name: r.Tool, Arguments: r.Arguments, Result: out})

		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("Tool %s returned: %s", r.Tool, out.JSON())},
		)
	}

	a.logger.Warn("step limit reached", zap.Int("max_steps", a.maxSteps))
	return a.finish(sess, res, fmt.Sprintf("stopped after %d steps without an answer", a.maxSteps), false), nil
}

func (a *Agent) finish(sess *session.Session, res *Result, output string, complete bool) *Result {
	res.Output = output
	res.Complete = complete
	sess.AddAssistant(a.name, output)
	return res
}

// SystemPrompt builds the turn's system prompt, including memories recalled
// from every namespace the agent can search.
func (a *Agent) SystemPrompt(ctx context.Context, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful %s.\n", a.role)

	for _, st := range a.toolbox.SearchTools() {
		found, err := st.Run(ctx, tools.SearchArgs{Query: query, Limit: a.recall})
		if err != nil {
			a.logger.Warn("memory recall failed", zap.String("tool", st.Name()), zap.Error(err))
			continue
		}
		fmt.Fprintf(&b, "\n## Memories in %s\n<memories>\n", st.Namespace().String())
		for _, m := range found.Memories {
			b.WriteString("- ")
			b.WriteString(renderMemory(m))
			b.WriteByte('\n')
		}
		b.WriteString("</memories>\n")
	}

	if a.toolbox.Len() > 0 {
		b.WriteString("\n## Tools\n")
		b.WriteString(a.toolbox.Describe())
		for _, d := range a.toolbox.Definitions() {
			params, _ := json.Marshal(d.Parameters)
			fmt.Fprintf(&b, "%s arguments schema: %s\n", d.Name, params)
		}
		b.WriteString(`
To call a tool, reply with only {"tool": "<name>", "arguments": {...}}.
Save information that will matter in future conversations with your memory tools.
`)
	}
	b.WriteString(`
When you are done, reply with only {"answer": "<your answer>", "complete": true}.
If you cannot do the task, reply {"answer": "<why>", "complete": false}.
`)
	return b.String()
}

func renderMemory(m tools.MemoryView) string {
	if len(m.Fields) == 0 {
		return m.Content
	}
	fields, _ := json.Marshal(m.Fields)
	if m.Content == "" {
		return string(fields)
	}
	return m.Content + " " + string(fields)
}
