// Package chromem provides a VectorStore on top of chromem-go, a pure Go
// embedded vector database.
//
// Each namespace maps to its own chromem collection, so an exact-namespace
// search only ever touches the vectors of that namespace. Subtree searches
// query every collection under the prefix and merge the results.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Store implements storage.VectorStore with chromem-go.
type Store struct {
	db *chromem.DB

	// mu serializes writes so the existence check and AddDocument are atomic.
	mu sync.RWMutex

	// keys tracks live keys per encoded namespace; chromem has no listing API.
	keys map[string]map[string]struct{}

	dimensions int
}

// Config configures the chromem store.
type Config struct {
	// PersistDir enables on-disk persistence when non-empty.
	PersistDir string

	// Compress gzips persisted documents.
	Compress bool

	EmbeddingModelDims int
}

// storedEntry is the JSON document kept as chromem content. chromem
// normalizes the vectors it indexes, so the original vector travels here.
type storedEntry struct {
	Namespace  []string               `json:"namespace"`
	Key        string                 `json:"key"`
	Text       string                 `json:"text"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	Embedding  []float64              `json:"embedding"`
	Provenance string                 `json:"provenance,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// New creates a chromem-backed store.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var db *chromem.DB
	if cfg.PersistDir != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistDir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	s := &Store{
		db:         db,
		keys:       make(map[string]map[string]struct{}),
		dimensions: cfg.EmbeddingModelDims,
	}
	if err := s.loadKeys(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// loadKeys rebuilds the key index from persisted collections by querying
// each one for all of its documents.
func (s *Store) loadKeys(ctx context.Context) error {
	if s.dimensions == 0 {
		return nil
	}
	probe := make([]float32, s.dimensions)
	probe[0] = 1

	for name, col := range s.db.ListCollections() {
		n := col.Count()
		if n == 0 {
			continue
		}
		docs, err := col.QueryEmbedding(ctx, probe, n, nil, nil)
		if err != nil {
			return fmt.Errorf("load key index for %s: %w", name, err)
		}
		set := make(map[string]struct{}, len(docs))
		for _, d := range docs {
			set[d.ID] = struct{}{}
		}
		s.keys[name] = set
	}
	return nil
}

func (s *Store) collection(encoded string) (*chromem.Collection, error) {
	// No embedding func: vectors are always supplied by the caller.
	col, err := s.db.GetOrCreateCollection(encoded, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get collection %q: %w", encoded, err)
	}
	return col, nil
}

// Insert stores a new entry.
func (s *Store) Insert(ctx context.Context, m *storage.Memory) error {
	if err := s.checkDims(m.Embedding); err != nil {
		return err
	}
	encoded := storage.EncodeNamespace(m.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[encoded][m.Key]; ok {
		return storage.ErrDuplicateKey
	}
	return s.put(ctx, encoded, m)
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, namespace []string, key string) (*storage.Memory, error) {
	encoded := storage.EncodeNamespace(namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(ctx, encoded, key)
}

// Update replaces an entry, keeping its CreatedAt.
func (s *Store) Update(ctx context.Context, m *storage.Memory) error {
	if err := s.checkDims(m.Embedding); err != nil {
		return err
	}
	encoded := storage.EncodeNamespace(m.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.get(ctx, encoded, m.Key)
	if err != nil {
		return err
	}
	next := m.Clone()
	next.CreatedAt = old.CreatedAt
	// AddDocument overwrites documents with the same id.
	return s.put(ctx, encoded, next)
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, namespace []string, key string) error {
	encoded := storage.EncodeNamespace(namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[encoded][key]; !ok {
		return storage.ErrNotFound
	}
	col := s.db.GetCollection(encoded, nil)
	if col == nil {
		return storage.ErrNotFound
	}
	if err := col.Delete(ctx, nil, nil, key); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	delete(s.keys[encoded], key)
	if len(s.keys[encoded]) == 0 {
		delete(s.keys, encoded)
		if err := s.db.DeleteCollection(encoded); err != nil {
			return fmt.Errorf("Delete: drop collection: %w", err)
		}
	}
	return nil
}

// Search queries each matching collection and merges by score.
func (s *Store) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if embedding == nil {
		return s.List(ctx, &storage.ListOptions{
			Namespace: opts.Namespace,
			Prefix:    opts.Prefix,
			Limit:     opts.Limit,
		})
	}
	if err := s.checkDims(embedding); err != nil {
		return nil, err
	}

	query := toFloat32(embedding)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*storage.Memory
	for _, encoded := range s.matching(opts.Namespace, opts.Prefix) {
		col := s.db.GetCollection(encoded, nil)
		if col == nil {
			continue
		}
		n := col.Count()
		if n == 0 {
			continue
		}
		// Ask for every document so ties can be broken by recency below.
		found, err := col.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}
		for _, r := range found {
			m, err := decode(r.Content)
			if err != nil {
				return nil, err
			}
			// Score against the original vector so every backend ranks alike.
			m.Score = storage.CosineSimilarity(embedding, m.Embedding)
			if m.Score >= opts.MinScore {
				results = append(results, m)
			}
		}
	}
	return storage.Rank(results, opts.Limit), nil
}

// List returns entries by recency.
func (s *Store) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Memory
	for _, encoded := range s.matching(opts.Namespace, opts.Prefix) {
		for key := range s.keys[encoded] {
			m, err := s.get(ctx, encoded, key)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	storage.SortByRecency(out)
	return storage.Page(out, opts.Offset, opts.Limit), nil
}

// Namespaces lists namespaces under prefix.
func (s *Store) Namespaces(ctx context.Context, prefix []string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]string
	for _, encoded := range s.matching(prefix, true) {
		ns, err := storage.DecodeNamespace(encoded)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *Store) Close() error {
	return nil
}

func (s *Store) checkDims(vec []float64) error {
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vec), s.dimensions)
	}
	return nil
}

// matching returns the encoded namespaces selected by namespace/prefix.
// Caller holds s.mu.
func (s *Store) matching(namespace []string, prefix bool) []string {
	if !prefix {
		encoded := storage.EncodeNamespace(namespace)
		if _, ok := s.keys[encoded]; ok {
			return []string{encoded}
		}
		return nil
	}
	var out []string
	for encoded := range s.keys {
		ns, err := storage.DecodeNamespace(encoded)
		if err != nil {
			continue
		}
		if storage.NamespaceMatches(ns, namespace, true) {
			out = append(out, encoded)
		}
	}
	return out
}

// get reads an entry. Caller holds s.mu.
func (s *Store) get(ctx context.Context, encoded, key string) (*storage.Memory, error) {
	if _, ok := s.keys[encoded][key]; !ok {
		return nil, storage.ErrNotFound
	}
	col := s.db.GetCollection(encoded, nil)
	if col == nil {
		return nil, storage.ErrNotFound
	}
	doc, err := col.GetByID(ctx, key)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return decode(doc.Content)
}

// put writes the document and refreshes the key index. Caller holds s.mu.
func (s *Store) put(ctx context.Context, encoded string, m *storage.Memory) error {
	col, err := s.collection(encoded)
	if err != nil {
		return err
	}

	content, err := json.Marshal(storedEntry{
		Namespace:  m.Namespace,
		Key:        m.Key,
		Text:       m.Text,
		Fields:     m.Fields,
		Embedding:  m.Embedding,
		Provenance: m.Provenance,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	doc := chromem.Document{
		ID:        m.Key,
		Content:   string(content),
		Embedding: toFloat32(m.Embedding),
		Metadata:  map[string]string{"updated_at": m.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	if s.keys[encoded] == nil {
		s.keys[encoded] = make(map[string]struct{})
	}
	s.keys[encoded][m.Key] = struct{}{}
	return nil
}

func decode(content string) (*storage.Memory, error) {
	var e storedEntry
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &storage.Memory{
		Namespace:  e.Namespace,
		Key:        e.Key,
		Text:       e.Text,
		Fields:     e.Fields,
		Embedding:  e.Embedding,
		Provenance: e.Provenance,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
