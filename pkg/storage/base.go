// Package storage defines the vector store contract used by the memory client.
//
// Backends key every entry by (namespace, key). Namespaces are hierarchical
// paths of string segments; a backend stores them in their encoded form
// (see EncodeNamespace) so that subtree queries can use a single prefix
// match.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no entry exists for a (namespace, key) pair.
	ErrNotFound = errors.New("storage: entry not found")

	// ErrDuplicateKey is returned by Insert when the (namespace, key) pair is taken.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrDimensionMismatch is returned when a vector does not match the store dimensions.
	ErrDimensionMismatch = errors.New("storage: embedding dimension mismatch")
)

// Memory is the storage representation of a memory entry.
type Memory struct {
	// Namespace is the ordered list of namespace segments.
	Namespace []string

	// Key is unique within Namespace.
	Key string

	// Text is the free-text content.
	Text string

	// Fields holds optional structured content.
	Fields map[string]interface{}

	// Embedding is the vector computed from Text and Fields.
	Embedding []float64

	// Provenance is the session or thread id that produced the entry.
	Provenance string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Score is the cosine similarity filled in by Search.
	Score float64
}

// Clone returns a deep copy of m.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	c.Namespace = append([]string(nil), m.Namespace...)
	c.Embedding = append([]float64(nil), m.Embedding...)
	if m.Fields != nil {
		c.Fields = make(map[string]interface{}, len(m.Fields))
		for k, v := range m.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// VectorStore is implemented by every storage backend.
//
// Implementations must be safe for concurrent use and must make a successful
// write visible to the next read on the same store.
type VectorStore interface {
	// Insert stores a new entry. It returns ErrDuplicateKey if the
	// (namespace, key) pair already exists.
	Insert(ctx context.Context, memory *Memory) error

	// Get returns the entry for (namespace, key) or ErrNotFound.
	Get(ctx context.Context, namespace []string, key string) (*Memory, error)

	// Update replaces text, fields, embedding, provenance and updated_at of an
	// existing entry. It returns ErrNotFound if the entry does not exist.
	Update(ctx context.Context, memory *Memory) error

	// Delete removes the entry and its vector in one step, or returns ErrNotFound.
	Delete(ctx context.Context, namespace []string, key string) error

	// Search ranks entries by cosine similarity to embedding, most recent
	// first on ties. A nil embedding orders by recency only.
	Search(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Memory, error)

	// List returns entries ordered by updated_at descending.
	List(ctx context.Context, opts *ListOptions) ([]*Memory, error)

	// Namespaces lists the distinct namespaces under prefix (all when empty).
	Namespaces(ctx context.Context, prefix []string) ([][]string, error)

	// Close releases backend resources.
	Close() error
}

// SearchOptions controls Search.
type SearchOptions struct {
	// Namespace restricts the search. Required.
	Namespace []string

	// Prefix extends the search to every namespace below Namespace.
	Prefix bool

	// Limit caps the number of results. Zero means no limit.
	Limit int

	// MinScore drops results scoring below it.
	MinScore float64
}

// ListOptions controls List.
type ListOptions struct {
	Namespace []string
	Prefix    bool
	Limit     int
	Offset    int
}
