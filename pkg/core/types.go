package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Namespace is an ordered, hierarchical scope for memories, e.g.
// ("research_private") or ("memories", "user_42").
//
// Namespaces are created implicitly by the first write and are the only
// isolation boundary: searches never cross from one namespace to another
// unless a subtree search is requested explicitly.
type Namespace []string

// NewNamespace builds a Namespace from segments.
func NewNamespace(segments ...string) Namespace {
	return append(Namespace(nil), segments...)
}

// ParseNamespace splits a "/"-separated path. It is meant for CLI input;
// segments containing "/" must be built with NewNamespace instead.
func ParseNamespace(path string) Namespace {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return NewNamespace(strings.Split(path, "/")...)
}

// Validate rejects empty namespaces and empty segments.
func (n Namespace) Validate() error {
	if len(n) == 0 {
		return fmt.Errorf("%w: namespace is empty", ErrInvalidNamespace)
	}
	for i, seg := range n {
		if strings.TrimSpace(seg) == "" {
			return fmt.Errorf("%w: segment %d is empty", ErrInvalidNamespace, i)
		}
	}
	return nil
}

// String renders the namespace as a "/"-joined path.
func (n Namespace) String() string {
	return strings.Join(n, "/")
}

// Equal reports whether both namespaces have the same segments.
func (n Namespace) Equal(other Namespace) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is an ancestor of, or equal to, n.
func (n Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(n) {
		return false
	}
	for i := range prefix {
		if n[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Child returns a new namespace with segments appended.
func (n Namespace) Child(segments ...string) Namespace {
	out := make(Namespace, 0, len(n)+len(segments))
	out = append(out, n...)
	return append(out, segments...)
}

// Clone returns a copy that does not share the backing array.
func (n Namespace) Clone() Namespace {
	return append(Namespace(nil), n...)
}

// ContentKey derives a stable key from text. Case and whitespace are
// ignored, so restating the same fact maps to the same key.
func ContentKey(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return "mem_" + hex.EncodeToString(sum[:8])
}

// Content is the payload of a memory: free text plus optional structured
// fields (for example the task/action/result triple agents share).
type Content struct {
	// Text is the free-text body.
	Text string `json:"content"`

	// Fields holds schema-typed values.
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Text is shorthand for a text-only Content.
func Text(s string) Content {
	return Content{Text: s}
}

// IsEmpty reports whether the content carries nothing to embed.
func (c Content) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && len(c.Fields) == 0
}

// EmbeddingText is the string that gets embedded: the text followed by the
// fields in key order, so identical content always embeds identically.
func (c Content) EmbeddingText() string {
	if len(c.Fields) == 0 {
		return c.Text
	}
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.Text)
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		switch v := c.Fields[k].(type) {
		case string:
			b.WriteString(v)
		default:
			data, _ := json.Marshal(v)
			b.Write(data)
		}
	}
	return b.String()
}

// Memory is a single stored memory.
type Memory struct {
	// Namespace is where the memory lives.
	Namespace Namespace `json:"namespace"`

	// Key is unique within Namespace.
	Key string `json:"key"`

	// Content is the stored payload.
	Content Content `json:"value"`

	// Embedding is the vector for Content.
	// Omitted from JSON to reduce payload size.
	Embedding []float64 `json:"-"`

	// Provenance is the originating session or thread id.
	Provenance string `json:"provenance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Score is the similarity from Search; zero for recency results.
	Score float64 `json:"score,omitempty"`
}

// Action is a manage operation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
	}
}

// SearchResult contains the results of a search operation.
type SearchResult struct {
	// Memories is the list of matching memories, sorted by relevance.
	Memories []*Memory

	// Degraded is set when the query could not be embedded and results fell
	// back to recency order.
	Degraded bool
}
