// Package tools exposes the memory store to agents as two tools,
// manage_memory and search_memory.
//
// Each tool is constructed bound to exactly one namespace and is immutable
// afterwards: the namespace is not a tool argument, so a model can only reach
// the namespaces whose tools it was handed. Expected failures (duplicate key,
// unknown key, malformed arguments) come back as error Results the model can
// read and react to; only infrastructure failures are returned as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/session"
)

const (
	ManageToolName = "manage_memory"
	SearchToolName = "search_memory"
)

// Error codes carried in Result.Error.
const (
	CodeDuplicateKey = "duplicate_key"
	CodeNotFound     = "not_found"
	CodeInvalidInput = "invalid_input"
	CodeUnknownTool  = "unknown_tool"
)

// Store is the part of core.Client the tools use.
type Store interface {
	Manage(ctx context.Context, ns core.Namespace, action core.Action, opts ...core.ManageOption) (*core.Memory, error)
	Search(ctx context.Context, ns core.Namespace, query string, opts ...core.SearchOption) (*core.SearchResult, error)
}

// Tool is a callable exposed to a model.
type Tool interface {
	Name() string
	Description() string

	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]interface{}

	// Namespace is the namespace the tool was bound to.
	Namespace() core.Namespace

	// Invoke runs the tool with a JSON arguments object.
	Invoke(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Definition describes a tool for prompts.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Result is what a tool call returns to the model.
type Result struct {
	Status   string       `json:"status"`
	Action   string       `json:"action,omitempty"`
	Key      string       `json:"key,omitempty"`
	Error    string       `json:"error,omitempty"`
	Message  string       `json:"message,omitempty"`
	Memories []MemoryView `json:"memories,omitempty"`
	Degraded bool         `json:"degraded,omitempty"`
}

// MemoryView is the model-facing rendering of a memory.
type MemoryView struct {
	Key       string                 `json:"key"`
	Content   string                 `json:"content,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Score     float64                `json:"score,omitempty"`
	UpdatedAt string                 `json:"updated_at"`
}

// OK reports whether the call succeeded.
func (r *Result) OK() bool {
	return r.Status == "ok"
}

// JSON renders the result for the model.
func (r *Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","error":%q}`, err.Error())
	}
	return string(data)
}

func errorResult(code, message string) *Result {
	return &Result{Status: "error", Error: code, Message: message}
}

// classify turns expected store errors into results. Anything else is an
// infrastructure failure and is returned as an error.
func classify(err error) (*Result, error) {
	switch {
	case errors.Is(err, core.ErrDuplicateKey):
		return errorResult(CodeDuplicateKey, "a memory with this key already exists; use action \"update\""), nil
	case errors.Is(err, core.ErrNotFound):
		return errorResult(CodeNotFound, "no memory with this key"), nil
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrInvalidNamespace):
		return errorResult(CodeInvalidInput, err.Error()), nil
	default:
		return nil, err
	}
}

func view(m *core.Memory) MemoryView {
	return MemoryView{
		Key:       m.Key,
		Content:   m.Content.Text,
		Fields:    m.Content.Fields,
		Score:     m.Score,
		UpdatedAt: m.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Option configures a tool.
type Option func(*toolOptions)

type toolOptions struct {
	name        string
	description string
	schema      *ContentSchema
	limit       int
}

// WithName overrides the tool name.
func WithName(name string) Option {
	return func(o *toolOptions) { o.name = name }
}

// WithDescription overrides the tool description.
func WithDescription(d string) Option {
	return func(o *toolOptions) { o.description = d }
}

// WithSchema constrains structured content for a ManageTool.
func WithSchema(s *ContentSchema) Option {
	return func(o *toolOptions) { o.schema = s }
}

// WithMaxResults caps search_memory's limit argument. Default 10.
func WithMaxResults(n int) Option {
	return func(o *toolOptions) { o.limit = n }
}

func applyOptions(opts []Option) *toolOptions {
	o := &toolOptions{limit: core.DefaultSearchLimit}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ManageTool creates, updates and deletes memories in one namespace.
type ManageTool struct {
	store       Store
	ns          core.Namespace
	name        string
	description string
	schema      *ContentSchema
}

// NewManageTool binds a manage_memory tool to ns.
func NewManageTool(store Store, ns core.Namespace, opts ...Option) (*ManageTool, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	t := &ManageTool{
		store:       store,
		ns:          ns.Clone(),
		name:        o.name,
		description: o.description,
		schema:      o.schema,
	}
	if t.name == "" {
		t.name = ManageToolName
	}
	if t.description == "" {
		t.description = fmt.Sprintf("Create, update or delete a memory in %q. "+
			"Create fails with duplicate_key if the key exists; update and delete fail with not_found if it does not.", ns.String())
	}
	return t, nil
}

// ManageArgs are the manage_memory arguments.
type ManageArgs struct {
	Action  string                 `json:"action"`
	Key     string                 `json:"key,omitempty"`
	Content string                 `json:"content,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

func (t *ManageTool) Name() string              { return t.name }
func (t *ManageTool) Description() string       { return t.description }
func (t *ManageTool) Namespace() core.Namespace { return t.ns.Clone() }

// Schema returns the content schema, or nil for free text.
func (t *ManageTool) Schema() *ContentSchema { return t.schema }

func (t *ManageTool) Parameters() map[string]interface{} {
	props := map[string]interface{}{
		"action": map[string]interface{}{
			"type": "string",
			"enum": []string{string(core.ActionCreate), string(core.ActionUpdate), string(core.ActionDelete)},
		},
		"key": map[string]interface{}{
			"type":        "string",
			"description": "Memory key. Optional for create, required for update and delete.",
		},
	}
	if t.schema == nil || t.schema.AllowText {
		props["content"] = map[string]interface{}{
			"type":        "string",
			"description": "Memory text. Required for create and update.",
		}
	}
	if t.schema != nil {
		props["fields"] = t.schema.jsonSchema()
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"action"},
	}
}

// Invoke decodes ManageArgs and runs them.
func (t *ManageTool) Invoke(ctx context.Context, raw json.RawMessage) (*Result, error) {
	var args ManageArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(CodeInvalidInput, "arguments must be a JSON object: "+err.Error()), nil
	}
	return t.Run(ctx, args)
}

// Run executes a manage call.
func (t *ManageTool) Run(ctx context.Context, args ManageArgs) (*Result, error) {
	action, err := core.ParseAction(args.Action)
	if err != nil {
		return classify(err)
	}

	opts := []core.ManageOption{}
	if args.Key != "" {
		opts = append(opts, core.WithKey(args.Key))
	}
	if sess, ok := session.FromContext(ctx); ok {
		opts = append(opts, core.WithProvenance(sess.ThreadID()))
	}

	if action != core.ActionDelete {
		content, err := t.content(args)
		if err != nil {
			return classify(err)
		}
		opts = append(opts, core.WithContent(content))
	}

	m, err := t.store.Manage(ctx, t.ns, action, opts...)
	if err != nil {
		return classify(err)
	}
	return &Result{Status: "ok", Action: string(action), Key: m.Key}, nil
}

func (t *ManageTool) content(args ManageArgs) (core.Content, error) {
	if err := t.schema.Validate(args.Fields); err != nil {
		return core.Content{}, err
	}
	text := strings.TrimSpace(args.Content)
	if t.schema != nil && !t.schema.AllowText && text != "" {
		return core.Content{}, fmt.Errorf("%w: use fields instead of content", core.ErrInvalidInput)
	}
	c := core.Content{Text: text, Fields: args.Fields}
	if c.IsEmpty() {
		return core.Content{}, fmt.Errorf("%w: content is required", core.ErrInvalidInput)
	}
	return c, nil
}

// SearchTool searches one namespace.
type SearchTool struct {
	store       Store
	ns          core.Namespace
	name        string
	description string
	maxResults  int
}

// NewSearchTool binds a search_memory tool to ns.
func NewSearchTool(store Store, ns core.Namespace, opts ...Option) (*SearchTool, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	t := &SearchTool{
		store:       store,
		ns:          ns.Clone(),
		name:        o.name,
		description: o.description,
		maxResults:  o.limit,
	}
	if t.name == "" {
		t.name = SearchToolName
	}
	if t.description == "" {
		t.description = fmt.Sprintf("Search memories in %q by meaning. Returns the closest matches, most relevant first.", ns.String())
	}
	if t.maxResults <= 0 {
		t.maxResults = core.DefaultSearchLimit
	}
	return t, nil
}

// SearchArgs are the search_memory arguments.
type SearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (t *SearchTool) Name() string              { return t.name }
func (t *SearchTool) Description() string       { return t.description }
func (t *SearchTool) Namespace() core.Namespace { return t.ns.Clone() }

func (t *SearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for. Empty returns the most recent memories.",
			},
			"limit": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": t.maxResults,
			},
		},
	}
}

// Invoke decodes SearchArgs and runs them.
func (t *SearchTool) Invoke(ctx context.Context, raw json.RawMessage) (*Result, error) {
	var args SearchArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errorResult(CodeInvalidInput, "arguments must be a JSON object: "+err.Error()), nil
		}
	}
	return t.Run(ctx, args)
}

// Run executes a search.
func (t *SearchTool) Run(ctx context.Context, args SearchArgs) (*Result, error) {
	limit := args.Limit
	if limit <= 0 || limit > t.maxResults {
		limit = t.maxResults
	}

	found, err := t.store.Search(ctx, t.ns, args.Query, core.WithLimit(limit))
	if err != nil {
		return classify(err)
	}

	res := &Result{Status: "ok", Degraded: found.Degraded, Memories: make([]MemoryView, 0, len(found.Memories))}
	for _, m := range found.Memories {
		res.Memories = append(res.Memories, view(m))
	}
	return res, nil
}
