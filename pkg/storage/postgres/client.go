package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string

	// HNSW builds an hnsw cosine index on the embedding column when set.
	HNSW *HNSWParams
}

// HNSWParams tunes the pgvector hnsw index.
type HNSWParams struct {
	M              int
	EfConstruction int
}

const selectColumns = `namespace, mem_key, content, fields, embedding::text, provenance, created_at, updated_at`

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}

	client := &Client{
		db:             db,
		collectionName: collection,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background(), cfg.HNSW); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the pgvector extension, table and indexes.
func (c *Client) initTables(ctx context.Context, hnsw *HNSWParams) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			namespace TEXT NOT NULL,
			mem_key VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			fields JSONB,
			embedding vector(%d) NOT NULL,
			provenance VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (namespace, mem_key)
		)
	`, c.collectionName, c.dimensions)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_namespace_updated ON %s(namespace, updated_at DESC)
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}

	if hnsw != nil {
		m, ef := hnsw.M, hnsw.EfConstruction
		if m == 0 {
			m = 16
		}
		if ef == 0 {
			ef = 64
		}
		vecIndex := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING hnsw (embedding vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)
		`, c.collectionName, c.collectionName, m, ef)
		if _, err := c.db.ExecContext(ctx, vecIndex); err != nil {
			return fmt.Errorf("initTables: create hnsw index: %w", err)
		}
	}

	return nil
}

// Insert inserts a memory.
func (c *Client) Insert(ctx context.Context, memory *storage.Memory) error {
	if err := c.checkDims(memory.Embedding); err != nil {
		return err
	}

	fieldsJSON, err := storage.MarshalFields(memory.Fields)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, mem_key, content, fields, embedding, provenance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		storage.EncodeNamespace(memory.Namespace),
		memory.Key,
		memory.Text,
		fieldsJSON,
		storage.FormatVector(memory.Embedding),
		memory.Provenance,
		memory.CreatedAt.UTC(),
		memory.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Get retrieves a memory by namespace and key.
func (c *Client) Get(ctx context.Context, namespace []string, key string) (*storage.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE namespace = $1 AND mem_key = $2`, selectColumns, c.collectionName)

	memory, err := scanMemory(c.db.QueryRowContext(ctx, query, storage.EncodeNamespace(namespace), key), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return memory, nil
}

// Update updates a memory.
func (c *Client) Update(ctx context.Context, memory *storage.Memory) error {
	if err := c.checkDims(memory.Embedding); err != nil {
		return err
	}

	fieldsJSON, err := storage.MarshalFields(memory.Fields)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, fields = $2, embedding = $3, provenance = $4, updated_at = $5
		WHERE namespace = $6 AND mem_key = $7
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query,
		memory.Text,
		fieldsJSON,
		storage.FormatVector(memory.Embedding),
		memory.Provenance,
		memory.UpdatedAt.UTC(),
		storage.EncodeNamespace(memory.Namespace),
		memory.Key,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return requireAffected(result, "Update")
}

// Delete deletes a memory.
func (c *Client) Delete(ctx context.Context, namespace []string, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND mem_key = $2", c.collectionName)

	result, err := c.db.ExecContext(ctx, query, storage.EncodeNamespace(namespace), key)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return requireAffected(result, "Delete")
}

// Search performs vector search using pgvector's cosine distance operator.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if embedding == nil {
		return c.List(ctx, &storage.ListOptions{
			Namespace: opts.Namespace,
			Prefix:    opts.Prefix,
			Limit:     opts.Limit,
		})
	}
	if err := c.checkDims(embedding); err != nil {
		return nil, err
	}

	// $1 is the query vector, $2 the min score; namespace args follow.
	whereClause, filterArgs := buildWhereClauseWithOffset(opts.Namespace, opts.Prefix, 3)
	if whereClause == "" {
		whereClause = "WHERE 1 - (embedding <=> $1) >= $2"
	} else {
		whereClause += " AND 1 - (embedding <=> $1) >= $2"
	}

	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> $1, updated_at DESC
	`, selectColumns, c.collectionName, whereClause)

	args := []interface{}{storage.FormatVector(embedding), opts.MinScore}
	args = append(args, filterArgs...)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := scanMemories(rows, true)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	// Re-rank in Go so ties on float32 distance resolve by recency.
	return storage.Rank(memories, opts.Limit), nil
}

// List retrieves memories by recency.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	whereClause, args := buildWhereClause(opts.Namespace, opts.Prefix)

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY updated_at DESC, id DESC
		OFFSET $%d
	`, selectColumns, c.collectionName, whereClause, len(args)+1)
	args = append(args, opts.Offset)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows, false)
}

// Namespaces lists distinct namespaces under prefix.
func (c *Client) Namespaces(ctx context.Context, prefix []string) ([][]string, error) {
	whereClause, args := buildWhereClause(prefix, true)
	query := fmt.Sprintf(`SELECT DISTINCT namespace FROM %s %s ORDER BY namespace`, c.collectionName, whereClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Namespaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]string
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("Namespaces: %w", err)
		}
		ns, err := storage.DecodeNamespace(encoded)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) checkDims(vec []float64) error {
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vec), c.dimensions)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner, hasScore bool) (*storage.Memory, error) {
	var memory storage.Memory
	var namespace, embeddingStr string
	var fields []byte
	var provenance sql.NullString

	dest := []interface{}{
		&namespace,
		&memory.Key,
		&memory.Text,
		&fields,
		&embeddingStr,
		&provenance,
		&memory.CreatedAt,
		&memory.UpdatedAt,
	}
	if hasScore {
		dest = append(dest, &memory.Score)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if memory.Namespace, err = storage.DecodeNamespace(namespace); err != nil {
		return nil, err
	}
	if memory.Embedding, err = storage.ParseVector(embeddingStr); err != nil {
		return nil, err
	}
	if memory.Fields, err = storage.UnmarshalFields(string(fields)); err != nil {
		return nil, err
	}
	memory.Provenance = provenance.String
	return &memory, nil
}

func scanMemories(rows *sql.Rows, hasScore bool) ([]*storage.Memory, error) {
	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows, hasScore)
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memories, nil
}

func requireAffected(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
