// Package memory provides an in-process VectorStore backed by maps.
//
// It is the default backend for tests and single-process deployments.
// Entries are copied on the way in and on the way out, so callers never
// observe a partially written entry.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Store implements storage.VectorStore in memory.
type Store struct {
	mu sync.RWMutex

	// namespaces maps an encoded namespace to its entries by key.
	namespaces map[string]map[string]*storage.Memory

	dimensions int
}

// Config configures a Store.
type Config struct {
	// EmbeddingModelDims rejects vectors of any other length when > 0.
	EmbeddingModelDims int
}

// NewStore creates an empty Store.
func NewStore(cfg *Config) *Store {
	s := &Store{namespaces: make(map[string]map[string]*storage.Memory)}
	if cfg != nil {
		s.dimensions = cfg.EmbeddingModelDims
	}
	return s
}

func (s *Store) checkDims(vec []float64) error {
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vec), s.dimensions)
	}
	return nil
}

// Insert stores a new entry.
func (s *Store) Insert(ctx context.Context, m *storage.Memory) error {
	if err := s.checkDims(m.Embedding); err != nil {
		return err
	}

	ns := storage.EncodeNamespace(m.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.namespaces[ns]
	if !ok {
		entries = make(map[string]*storage.Memory)
		s.namespaces[ns] = entries
	}
	if _, exists := entries[m.Key]; exists {
		return storage.ErrDuplicateKey
	}
	entries[m.Key] = m.Clone()
	return nil
}

// Get returns a copy of the entry.
func (s *Store) Get(ctx context.Context, namespace []string, key string) (*storage.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.namespaces[storage.EncodeNamespace(namespace)][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// Update swaps in a new version of the entry, keeping CreatedAt.
func (s *Store) Update(ctx context.Context, m *storage.Memory) error {
	if err := s.checkDims(m.Embedding); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.namespaces[storage.EncodeNamespace(m.Namespace)]
	old, ok := entries[m.Key]
	if !ok {
		return storage.ErrNotFound
	}
	next := m.Clone()
	next.CreatedAt = old.CreatedAt
	entries[m.Key] = next
	return nil
}

// Delete removes the entry.
func (s *Store) Delete(ctx context.Context, namespace []string, key string) error {
	ns := storage.EncodeNamespace(namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.namespaces[ns]
	if _, ok := entries[key]; !ok {
		return storage.ErrNotFound
	}
	delete(entries, key)
	if len(entries) == 0 {
		delete(s.namespaces, ns)
	}
	return nil
}

// Search ranks matching entries by cosine similarity.
func (s *Store) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if embedding != nil {
		if err := s.checkDims(embedding); err != nil {
			return nil, err
		}
	}

	matches := s.collect(opts.Namespace, opts.Prefix)
	if embedding == nil {
		storage.SortByRecency(matches)
		return storage.Page(matches, 0, opts.Limit), nil
	}

	results := matches[:0]
	for _, m := range matches {
		m.Score = storage.CosineSimilarity(embedding, m.Embedding)
		if m.Score >= opts.MinScore {
			results = append(results, m)
		}
	}
	return storage.Rank(results, opts.Limit), nil
}

// List returns entries ordered by recency.
func (s *Store) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	matches := s.collect(opts.Namespace, opts.Prefix)
	storage.SortByRecency(matches)
	return storage.Page(matches, opts.Offset, opts.Limit), nil
}

// Namespaces lists the namespaces holding at least one entry.
func (s *Store) Namespaces(ctx context.Context, prefix []string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]string
	for encoded := range s.namespaces {
		ns, err := storage.DecodeNamespace(encoded)
		if err != nil {
			return nil, err
		}
		if storage.NamespaceMatches(ns, prefix, true) {
			out = append(out, ns)
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// collect copies every entry in the namespace (or subtree).
func (s *Store) collect(namespace []string, prefix bool) []*storage.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Memory
	if !prefix {
		for _, m := range s.namespaces[storage.EncodeNamespace(namespace)] {
			out = append(out, m.Clone())
		}
		return out
	}
	for _, entries := range s.namespaces {
		for _, m := range entries {
			if storage.NamespaceMatches(m.Namespace, namespace, true) {
				out = append(out, m.Clone())
			}
		}
	}
	return out
}
