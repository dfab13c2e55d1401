package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/embedder"
	mockEmbedder "github.com/oceanbase/agentmem-go/pkg/embedder/mock"
	ollamaEmbedder "github.com/oceanbase/agentmem-go/pkg/embedder/ollama"
	openaiEmbedder "github.com/oceanbase/agentmem-go/pkg/embedder/openai"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	anthropicLLM "github.com/oceanbase/agentmem-go/pkg/llm/anthropic"
	ollamaLLM "github.com/oceanbase/agentmem-go/pkg/llm/ollama"
	openaiLLM "github.com/oceanbase/agentmem-go/pkg/llm/openai"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	chromemStore "github.com/oceanbase/agentmem-go/pkg/storage/chromem"
	memoryStore "github.com/oceanbase/agentmem-go/pkg/storage/memory"
	"github.com/oceanbase/agentmem-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/agentmem-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/agentmem-go/pkg/storage/sqlite"
)

// Client is the namespaced memory store.
//
// Every operation takes an explicit Namespace; there is no default scope and
// no implicit user or thread partitioning. Writes embed their content before
// they are acknowledged, so a successful write is visible to the next Search
// on the same client.
//
// The client is thread-safe and can be used concurrently from multiple goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	ns := core.NewNamespace("research_private")
//	_, _ = client.Create(ctx, ns, core.Text("User likes Python"))
//	result, _ := client.Search(ctx, ns, "programming languages")
type Client struct {
	// storage is the vector store for memory persistence.
	storage storage.VectorStore

	// embedder is the embedding provider for vector generation.
	embedder embedder.Provider

	// llm is optional and only handed out through LLM.
	llm llm.Provider

	// dims is the fixed vector dimension D.
	dims int

	// snowflakeNode generates keys for creates without one.
	snowflakeNode *snowflake.Node

	// locks serializes writers per (namespace, key).
	locks *keyLocks

	logger *zap.Logger
}

// New builds a Client from an existing store and embedder. D is taken from
// emb.Dimensions().
func New(store storage.VectorStore, emb embedder.Provider, opts ...ClientOption) (*Client, error) {
	if store == nil || emb == nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: store and embedder are required", ErrInvalidConfig))
	}
	if emb.Dimensions() <= 0 {
		return nil, NewMemoryError("New", fmt.Errorf("%w: embedder reports %d dimensions", ErrInvalidConfig, emb.Dimensions()))
	}

	o := &clientOptions{nodeID: 1}
	for _, opt := range opts {
		opt(o)
	}

	node, err := snowflake.NewNode(o.nodeID)
	if err != nil {
		return nil, NewMemoryError("New", err)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		storage:       store,
		embedder:      emb,
		llm:           o.llm,
		dims:          emb.Dimensions(),
		snowflakeNode: node,
		locks:         newKeyLocks(o.stripes),
		logger:        logger.Named("core"),
	}, nil
}

// NewClient creates a Client from configuration.
//
// The embedder is wrapped with bounded retry (and the cache, when
// configured); the vector store dimension defaults to the embedder's. An LLM
// is created only when cfg.LLM.Provider is set.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	emb, err := initEmbedder(cfg, o.logger)
	if err != nil {
		return nil, err
	}

	store, err := initStorage(cfg.VectorStore, emb.Dimensions())
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	if cfg.LLM.Provider != "" && o.llm == nil {
		provider, err := initLLM(cfg.LLM)
		if err != nil {
			_ = store.Close()
			_ = emb.Close()
			return nil, err
		}
		opts = append(opts, WithLLM(provider))
	}

	client, err := New(store, emb, opts...)
	if err != nil {
		_ = store.Close()
		_ = emb.Close()
		return nil, err
	}
	return client, nil
}

// Dimensions returns D.
func (c *Client) Dimensions() int {
	return c.dims
}

// LLM returns the completion provider configured alongside the store, or nil.
func (c *Client) LLM() llm.Provider {
	return c.llm
}

// Embedder returns the (wrapped) embedding provider.
func (c *Client) Embedder() embedder.Provider {
	return c.embedder
}

// Manage creates, updates or deletes one memory.
//
//   - create: WithContent is required; WithKey is optional and a snowflake id
//     is generated without it. An existing key fails with ErrDuplicateKey.
//   - update: WithKey and WithContent are required. Unknown keys fail with
//     ErrNotFound.
//   - delete: WithKey is required. Unknown keys fail with ErrNotFound. The
//     removed memory is returned.
//
// Example:
//
//	memory, err := client.Manage(ctx, ns, core.ActionCreate,
//	    core.WithContent(core.Text("User prefers dark mode")),
//	    core.WithProvenance(sess.ThreadID()),
//	)
func (c *Client) Manage(ctx context.Context, ns Namespace, action Action, opts ...ManageOption) (*Memory, error) {
	o := applyManageOptions(opts)
	switch action {
	case ActionCreate:
		if o.Content == nil {
			return nil, NewMemoryError("Create", fmt.Errorf("%w: content is required", ErrInvalidInput))
		}
		return c.create(ctx, ns, o.Key, *o.Content, o.Provenance)
	case ActionUpdate:
		if o.Content == nil {
			return nil, NewMemoryError("Update", fmt.Errorf("%w: content is required", ErrInvalidInput))
		}
		return c.update(ctx, ns, o.Key, *o.Content, o.Provenance)
	case ActionDelete:
		return c.delete(ctx, ns, o.Key)
	default:
		return nil, NewMemoryError("Manage", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action))
	}
}

// Create stores a new memory. See Manage.
func (c *Client) Create(ctx context.Context, ns Namespace, content Content, opts ...ManageOption) (*Memory, error) {
	return c.Manage(ctx, ns, ActionCreate, append(opts, WithContent(content))...)
}

// Update replaces the content of an existing memory. See Manage.
func (c *Client) Update(ctx context.Context, ns Namespace, key string, content Content, opts ...ManageOption) (*Memory, error) {
	return c.Manage(ctx, ns, ActionUpdate, append(opts, WithKey(key), WithContent(content))...)
}

// Delete removes a memory and its vector. See Manage.
func (c *Client) Delete(ctx context.Context, ns Namespace, key string) (*Memory, error) {
	return c.Manage(ctx, ns, ActionDelete, WithKey(key))
}

// Upsert creates the memory or, when the key exists, updates it. Reflection
// uses it so re-running an extraction converges instead of duplicating.
func (c *Client) Upsert(ctx context.Context, ns Namespace, key string, content Content, opts ...ManageOption) (*Memory, error) {
	const op = "Upsert"
	if err := c.checkWrite(ns, key, content, true); err != nil {
		return nil, NewMemoryError(op, err)
	}
	o := applyManageOptions(opts)

	vec, err := c.embed(ctx, op, content)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(ns, key)
	defer unlock()

	existing, err := c.storage.Get(ctx, ns, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		m, err := c.insertLocked(ctx, ns, key, content, vec, o.Provenance)
		if errors.Is(err, ErrDuplicateKey) {
			// Another process won the create; fall through to update.
			existing, err = c.storage.Get(ctx, ns, key)
			if err != nil {
				return nil, translateStorageError(op, err)
			}
			return c.updateLocked(ctx, existing, content, vec, o.Provenance)
		}
		return m, err
	case err != nil:
		return nil, translateStorageError(op, err)
	default:
		return c.updateLocked(ctx, existing, content, vec, o.Provenance)
	}
}

func (c *Client) create(ctx context.Context, ns Namespace, key string, content Content, provenance string) (*Memory, error) {
	const op = "Create"
	if err := c.checkWrite(ns, key, content, false); err != nil {
		return nil, NewMemoryError(op, err)
	}
	if key == "" {
		key = c.snowflakeNode.Generate().String()
	}

	vec, err := c.embed(ctx, op, content)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(ns, key)
	defer unlock()
	return c.insertLocked(ctx, ns, key, content, vec, provenance)
}

func (c *Client) update(ctx context.Context, ns Namespace, key string, content Content, provenance string) (*Memory, error) {
	const op = "Update"
	if err := c.checkWrite(ns, key, content, true); err != nil {
		return nil, NewMemoryError(op, err)
	}

	vec, err := c.embed(ctx, op, content)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(ns, key)
	defer unlock()

	existing, err := c.storage.Get(ctx, ns, key)
	if err != nil {
		return nil, translateStorageError(op, err)
	}
	return c.updateLocked(ctx, existing, content, vec, provenance)
}

func (c *Client) delete(ctx context.Context, ns Namespace, key string) (*Memory, error) {
	const op = "Delete"
	if err := ns.Validate(); err != nil {
		return nil, NewMemoryError(op, err)
	}
	if key == "" {
		return nil, NewMemoryError(op, fmt.Errorf("%w: key is required", ErrInvalidInput))
	}

	unlock := c.locks.lock(ns, key)
	defer unlock()

	existing, err := c.storage.Get(ctx, ns, key)
	if err != nil {
		return nil, translateStorageError(op, err)
	}
	if err := c.storage.Delete(ctx, ns, key); err != nil {
		return nil, translateStorageError(op, err)
	}

	c.logger.Debug("memory deleted", zap.Stringer("namespace", ns), zap.String("key", key))
	return fromStorageMemory(existing), nil
}

func (c *Client) insertLocked(ctx context.Context, ns Namespace, key string, content Content, vec []float64, provenance string) (*Memory, error) {
	now := time.Now().UTC()
	memory := &Memory{
		Namespace:  ns.Clone(),
		Key:        key,
		Content:    content,
		Embedding:  vec,
		Provenance: provenance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.storage.Insert(ctx, toStorageMemory(memory)); err != nil {
		return nil, translateStorageError("Create", err)
	}

	c.logger.Debug("memory created", zap.Stringer("namespace", ns), zap.String("key", key))
	return memory, nil
}

func (c *Client) updateLocked(ctx context.Context, existing *storage.Memory, content Content, vec []float64, provenance string) (*Memory, error) {
	memory := fromStorageMemory(existing)
	memory.Content = content
	memory.Embedding = vec
	memory.Score = 0
	if provenance != "" {
		memory.Provenance = provenance
	}

	// UpdatedAt must move forward even on coarse clocks so recency ordering
	// reflects write order.
	now := time.Now().UTC()
	if !now.After(memory.UpdatedAt) {
		now = memory.UpdatedAt.Add(time.Microsecond)
	}
	memory.UpdatedAt = now

	if err := c.storage.Update(ctx, toStorageMemory(memory)); err != nil {
		return nil, translateStorageError("Update", err)
	}

	c.logger.Debug("memory updated", zap.Stringer("namespace", memory.Namespace), zap.String("key", memory.Key))
	return memory, nil
}

// checkWrite validates a create/update request.
func (c *Client) checkWrite(ns Namespace, key string, content Content, keyRequired bool) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if keyRequired && key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	if content.IsEmpty() {
		return fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	return nil
}

// embed computes the vector for content and checks it against D.
func (c *Client) embed(ctx context.Context, op string, content Content) ([]float64, error) {
	vec, err := c.embedText(ctx, content.EmbeddingText())
	if err != nil {
		return nil, NewMemoryError(op, err)
	}
	return vec, nil
}

func (c *Client) embedText(ctx context.Context, text string) ([]float64, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vec) != c.dims {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingFailed, len(vec), c.dims)
	}
	return vec, nil
}

// Search ranks the memories of ns by cosine similarity to query, most recent
// first on ties. An empty query returns the most recently updated memories.
//
// When the query cannot be embedded the search degrades to recency order and
// SearchResult.Degraded is set instead of failing.
//
// Example:
//
//	result, err := client.Search(ctx, core.NewNamespace("shared_workspace"),
//	    "literature review", core.WithLimit(5))
func (c *Client) Search(ctx context.Context, ns Namespace, query string, opts ...SearchOption) (*SearchResult, error) {
	const op = "Search"
	if err := ns.Validate(); err != nil {
		return nil, NewMemoryError(op, err)
	}
	o := applySearchOptions(opts)

	result := &SearchResult{}
	var vec []float64
	if strings.TrimSpace(query) != "" {
		var err error
		vec, err = c.embedText(ctx, query)
		if err != nil {
			if !errors.Is(err, ErrEmbeddingFailed) {
				return nil, NewMemoryError(op, err)
			}
			c.logger.Warn("query embedding failed, falling back to recency",
				zap.Stringer("namespace", ns),
				zap.Error(err),
			)
			vec = nil
			result.Degraded = true
		}
	}

	memories, err := c.storage.Search(ctx, vec, &storage.SearchOptions{
		Namespace: ns,
		Prefix:    o.Prefix,
		Limit:     o.Limit,
		MinScore:  o.MinScore,
	})
	if err != nil {
		return nil, translateStorageError(op, err)
	}

	result.Memories = fromStorageMemories(memories)
	return result, nil
}

// Get returns one memory.
func (c *Client) Get(ctx context.Context, ns Namespace, key string) (*Memory, error) {
	const op = "Get"
	if err := ns.Validate(); err != nil {
		return nil, NewMemoryError(op, err)
	}
	m, err := c.storage.Get(ctx, ns, key)
	if err != nil {
		return nil, translateStorageError(op, err)
	}
	return fromStorageMemory(m), nil
}

// List returns the memories of ns, most recently updated first.
func (c *Client) List(ctx context.Context, ns Namespace, opts ...ListOption) ([]*Memory, error) {
	const op = "List"
	if err := ns.Validate(); err != nil {
		return nil, NewMemoryError(op, err)
	}
	o := applyListOptions(opts)

	memories, err := c.storage.List(ctx, &storage.ListOptions{
		Namespace: ns,
		Prefix:    o.Prefix,
		Limit:     o.Limit,
		Offset:    o.Offset,
	})
	if err != nil {
		return nil, translateStorageError(op, err)
	}
	return fromStorageMemories(memories), nil
}

// Namespaces lists every namespace that currently holds at least one memory,
// restricted to the subtree under prefix when prefix is non-empty.
func (c *Client) Namespaces(ctx context.Context, prefix Namespace) ([]Namespace, error) {
	raw, err := c.storage.Namespaces(ctx, prefix)
	if err != nil {
		return nil, translateStorageError("Namespaces", err)
	}
	out := make([]Namespace, 0, len(raw))
	for _, ns := range raw {
		out = append(out, NewNamespace(ns...))
	}
	sortNamespaces(out)
	return out, nil
}

// Close closes the client and releases all resources.
//
// Returns the first error encountered during cleanup, or nil if all resources
// were closed successfully.
func (c *Client) Close() error {
	var errs []error

	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}

	return nil
}

func sortNamespaces(nss []Namespace) {
	sort.Slice(nss, func(i, j int) bool {
		return nss[i].String() < nss[j].String()
	})
}

// initStorage initializes the storage backend.
func initStorage(cfg VectorStoreConfig, dims int) (storage.VectorStore, error) {
	m := cfg.Config
	if m == nil {
		m = map[string]interface{}{}
	}
	dims = getInt(m, "embedding_model_dims", dims)

	var (
		store storage.VectorStore
		err   error
	)
	switch cfg.Provider {
	case "memory":
		store = memoryStore.NewStore(&memoryStore.Config{EmbeddingModelDims: dims})
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             getString(m, "db_path", "./agentmem.db"),
			CollectionName:     getString(m, "collection_name", "memories"),
			EmbeddingModelDims: dims,
		})
	case "postgres":
		pgCfg := &postgresStore.Config{
			Host:               getString(m, "host", "localhost"),
			Port:               getInt(m, "port", 5432),
			User:               getString(m, "user", "postgres"),
			Password:           getString(m, "password", ""),
			DBName:             getString(m, "db_name", "agentmem"),
			CollectionName:     getString(m, "collection_name", "memories"),
			EmbeddingModelDims: dims,
			SSLMode:            getString(m, "ssl_mode", "disable"),
		}
		if hnswM := getInt(m, "hnsw_m", 0); hnswM > 0 {
			pgCfg.HNSW = &postgresStore.HNSWParams{
				M:              hnswM,
				EfConstruction: getInt(m, "hnsw_ef_construction", 64),
			}
		}
		store, err = postgresStore.NewClient(pgCfg)
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:               getString(m, "host", "127.0.0.1"),
			Port:               getInt(m, "port", 2881),
			User:               getString(m, "user", "root@sys"),
			Password:           getString(m, "password", ""),
			DBName:             getString(m, "db_name", "agentmem"),
			CollectionName:     getString(m, "collection_name", "memories"),
			EmbeddingModelDims: dims,
			VectorIndex:        getBool(m, "vector_index"),
		})
	case "chromem":
		store, err = chromemStore.New(&chromemStore.Config{
			PersistDir:         getString(m, "persist_dir", ""),
			Compress:           getBool(m, "compress"),
			EmbeddingModelDims: dims,
		})
	default:
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: unknown vector store %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", err)
	}
	return store, nil
}

// initLLM initializes the LLM provider.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	var (
		provider llm.Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider, err = openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "deepseek":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openaiLLM.DeepSeekBaseURL
		}
		model := cfg.Model
		if model == "" {
			model = "deepseek-chat"
		}
		provider, err = openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   model,
			BaseURL: baseURL,
		})
	case "ollama":
		provider, err = ollamaLLM.NewClient(&ollamaLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		provider, err = anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewMemoryError("initLLM", fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("initLLM", err)
	}
	return provider, nil
}

// NewLLM builds the completion provider described by cfg.
func NewLLM(cfg LLMConfig) (llm.Provider, error) {
	return initLLM(cfg)
}

// initEmbedder initializes the embedder provider and its retry and cache
// wrappers.
func initEmbedder(cfg *Config, logger *zap.Logger) (embedder.Provider, error) {
	ec := cfg.Embedder

	var (
		provider embedder.Provider
		err      error
	)
	switch ec.Provider {
	case "openai":
		provider, err = openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     ec.APIKey,
			Model:      ec.Model,
			BaseURL:    ec.BaseURL,
			Dimensions: ec.Dimensions,
		})
	case "ollama":
		provider, err = ollamaEmbedder.NewClient(&ollamaEmbedder.Config{
			APIKey:     ec.APIKey,
			Model:      ec.Model,
			BaseURL:    ec.BaseURL,
			Dimensions: ec.Dimensions,
		})
	case "mock":
		provider = mockEmbedder.New(ec.Dimensions)
	default:
		return nil, NewMemoryError("initEmbedder", fmt.Errorf("%w: unknown embedder %q", ErrInvalidConfig, ec.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("initEmbedder", err)
	}

	provider = embedder.NewRetrying(provider, embedder.RetryConfig{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Logger:          logger,
	})

	if cfg.Cache != nil {
		cached, err := embedder.NewCached(provider, embedder.CacheConfig{MaxCost: cfg.Cache.MaxCost})
		if err != nil {
			_ = provider.Close()
			return nil, NewMemoryError("initEmbedder", err)
		}
		provider = cached
	}
	return provider, nil
}
