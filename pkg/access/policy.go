// Package access decides which namespaces each agent can reach.
//
// There are no per-call permission checks. A Policy is built once at wiring
// time and turns each agent's grants into a tools.Toolbox whose tools are
// already bound to the granted namespaces. An agent that was never handed a
// tool for a namespace has no way to name it.
//
// Trust boundary: the memory store itself enforces nothing. Isolation holds
// only as long as agents reach the store exclusively through the toolbox
// their Policy built. Code holding the core.Client directly (the host
// application, the reflection scheduler, the supervisor) is trusted and can
// read or write any namespace.
package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/tools"
)

var (
	// ErrConflictingGrant is returned by Build when a namespace declared
	// private to one agent is also granted to another.
	ErrConflictingGrant = errors.New("access: conflicting namespace grant")

	// ErrUnknownAgent is returned for agents without any grant.
	ErrUnknownAgent = errors.New("access: unknown agent")

	// ErrToolNameClash is returned by Build when two namespaces of one
	// agent would produce the same tool names.
	ErrToolNameClash = errors.New("access: tool name clash")
)

// Mode is the kind of grant.
type Mode string

const (
	// ModePrivate grants read and write to exactly one agent.
	ModePrivate Mode = "private"

	// ModeShared grants read and write to every listed agent.
	ModeShared Mode = "shared"

	// ModeReadOnly grants search only.
	ModeReadOnly Mode = "read_only"
)

// Grant is one agent's access to one namespace.
type Grant struct {
	Agent     string
	Namespace core.Namespace
	Mode      Mode

	// Schema constrains structured content written through the grant.
	Schema *tools.ContentSchema
}

// Writable reports whether the grant includes manage_memory.
func (g Grant) Writable() bool {
	return g.Mode != ModeReadOnly
}

// Builder collects grants. It is not safe for concurrent use.
type Builder struct {
	grants []Grant
	errs   []error
}

// NewBuilder starts an empty policy.
func NewBuilder() *Builder {
	return &Builder{}
}

// Private gives agent exclusive read/write access to ns.
func (b *Builder) Private(agent string, ns core.Namespace) *Builder {
	return b.add(Grant{Agent: agent, Namespace: ns, Mode: ModePrivate})
}

// Shared gives every listed agent read/write access to ns.
func (b *Builder) Shared(ns core.Namespace, agents ...string) *Builder {
	for _, a := range agents {
		b.add(Grant{Agent: a, Namespace: ns, Mode: ModeShared})
	}
	return b
}

// SharedWithSchema is Shared with structured content enforced.
func (b *Builder) SharedWithSchema(ns core.Namespace, schema *tools.ContentSchema, agents ...string) *Builder {
	for _, a := range agents {
		b.add(Grant{Agent: a, Namespace: ns, Mode: ModeShared, Schema: schema})
	}
	return b
}

// ReadOnly gives agent search access to ns.
func (b *Builder) ReadOnly(agent string, ns core.Namespace) *Builder {
	return b.add(Grant{Agent: agent, Namespace: ns, Mode: ModeReadOnly})
}

func (b *Builder) add(g Grant) *Builder {
	if strings.TrimSpace(g.Agent) == "" {
		b.errs = append(b.errs, fmt.Errorf("access: empty agent name for namespace %q", g.Namespace.String()))
		return b
	}
	if err := g.Namespace.Validate(); err != nil {
		b.errs = append(b.errs, fmt.Errorf("access: agent %q: %w", g.Agent, err))
		return b
	}
	g.Namespace = g.Namespace.Clone()
	b.grants = append(b.grants, g)
	return b
}

// Build validates the grants and freezes them into a Policy.
//
// A private namespace may appear in grants of its owner only. Granting the
// same agent the same namespace twice keeps the strongest mode.
func (b *Builder) Build() (*Policy, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	owners := make(map[string]string)
	for _, g := range b.grants {
		if g.Mode != ModePrivate {
			continue
		}
		key := g.Namespace.String()
		if prev, ok := owners[key]; ok && prev != g.Agent {
			return nil, fmt.Errorf("%w: %q is private to %q and %q", ErrConflictingGrant, key, prev, g.Agent)
		}
		owners[key] = g.Agent
	}

	p := &Policy{byAgent: make(map[string][]Grant)}
	for _, g := range b.grants {
		key := g.Namespace.String()
		if owner, ok := owners[key]; ok && owner != g.Agent {
			return nil, fmt.Errorf("%w: %q is private to %q but granted to %q", ErrConflictingGrant, key, owner, g.Agent)
		}
		p.merge(g)
	}

	for agent, grants := range p.byAgent {
		if len(grants) < 2 {
			continue
		}
		seen := make(map[string]string, len(grants))
		for _, g := range grants {
			s, ns := toolSuffix(g.Namespace), g.Namespace.String()
			if prev, ok := seen[s]; ok {
				return nil, fmt.Errorf("%w: agent %q: %q and %q both map to tools named *_%s",
					ErrToolNameClash, agent, prev, ns, s)
			}
			seen[s] = ns
		}
	}
	return p, nil
}

// Policy is an immutable map from agents to grants.
type Policy struct {
	byAgent map[string][]Grant
}

func (p *Policy) merge(g Grant) {
	grants := p.byAgent[g.Agent]
	for i, existing := range grants {
		if existing.Namespace.Equal(g.Namespace) {
			if rank(g.Mode) > rank(existing.Mode) {
				grants[i].Mode = g.Mode
			}
			if g.Schema != nil {
				grants[i].Schema = g.Schema
			}
			return
		}
	}
	p.byAgent[g.Agent] = append(grants, g)
}

func rank(m Mode) int {
	switch m {
	case ModePrivate:
		return 2
	case ModeShared:
		return 1
	default:
		return 0
	}
}

// Agents lists the agents with at least one grant, sorted.
func (p *Policy) Agents() []string {
	out := make([]string, 0, len(p.byAgent))
	for a := range p.byAgent {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Grants returns agent's grants in declaration order.
func (p *Policy) Grants(agent string) []Grant {
	return append([]Grant(nil), p.byAgent[agent]...)
}

// Holders lists the agents with any grant on ns, sorted.
func (p *Policy) Holders(ns core.Namespace) []string {
	var out []string
	for agent, grants := range p.byAgent {
		for _, g := range grants {
			if g.Namespace.Equal(ns) {
				out = append(out, agent)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Toolbox builds the tools for agent. With a single grant the tools keep the
// plain names manage_memory and search_memory; with several, each name gets
// the namespace appended (search_memory_shared_workspace).
func (p *Policy) Toolbox(agent string, store tools.Store) (*tools.Toolbox, error) {
	grants, ok := p.byAgent[agent]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
	}

	suffix := len(grants) > 1
	var list []tools.Tool
	for _, g := range grants {
		manageName, searchName := tools.ManageToolName, tools.SearchToolName
		if suffix {
			s := toolSuffix(g.Namespace)
			manageName += "_" + s
			searchName += "_" + s
		}

		if g.Writable() {
			mt, err := tools.NewManageTool(store, g.Namespace,
				tools.WithName(manageName),
				tools.WithSchema(g.Schema),
			)
			if err != nil {
				return nil, err
			}
			list = append(list, mt)
		}

		st, err := tools.NewSearchTool(store, g.Namespace, tools.WithName(searchName))
		if err != nil {
			return nil, err
		}
		list = append(list, st)
	}
	return tools.NewToolbox(list...)
}

// Describe renders the wiring for audit, one agent per block.
func (p *Policy) Describe() string {
	var b strings.Builder
	for _, agent := range p.Agents() {
		fmt.Fprintf(&b, "%s:\n", agent)
		for _, g := range p.byAgent[agent] {
			access := "read/write"
			if !g.Writable() {
				access = "read"
			}
			fmt.Fprintf(&b, "  %-9s %-10s %s\n", g.Mode, access, g.Namespace.String())
		}
	}
	return b.String()
}

func toolSuffix(ns core.Namespace) string {
	s := strings.Join(ns, "_")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
