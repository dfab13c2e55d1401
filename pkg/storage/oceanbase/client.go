package oceanbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Client is an OceanBase client.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int

	// VectorIndex creates an HNSW vector index with cosine metric when set.
	VectorIndex bool
}

const selectColumns = `namespace, mem_key, document, fields, embedding, provenance, created_at, updated_at`

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}

	client := &Client{
		db:             db,
		config:         cfg,
		collectionName: collection,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			namespace VARCHAR(512) NOT NULL,
			mem_key VARCHAR(255) NOT NULL,
			document LONGTEXT NOT NULL,
			fields JSON,
			embedding VECTOR(%d) NOT NULL,
			provenance VARCHAR(128),
			hash VARCHAR(32),
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uk_namespace_key (namespace, mem_key),
			INDEX idx_namespace_updated (namespace, updated_at)
		)
	`, c.collectionName, c.config.EmbeddingModelDims)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	if c.config.VectorIndex {
		indexQuery := fmt.Sprintf(`
			CREATE VECTOR INDEX IF NOT EXISTS idx_%s_embedding ON %s (embedding) WITH (
				distance = cosine,
				type = hnsw,
				lib = vsag
			)`, c.collectionName, c.collectionName)
		if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
			return fmt.Errorf("initTables: vector index: %w", err)
		}
	}

	return nil
}

// Insert inserts a memory. The content hash column mirrors the document for
// quick duplicate inspection from SQL.
func (c *Client) Insert(ctx context.Context, memory *storage.Memory) error {
	if err := c.checkDims(memory.Embedding); err != nil {
		return err
	}

	fieldsJSON, err := storage.MarshalFields(memory.Fields)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(namespace, mem_key, document, fields, embedding, provenance, hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		storage.EncodeNamespace(memory.Namespace),
		memory.Key,
		memory.Text,
		fieldsJSON,
		storage.FormatVector(memory.Embedding),
		memory.Provenance,
		generateHash(memory.Text),
		memory.CreatedAt.UTC(),
		memory.UpdatedAt.UTC(),
	)
	if isDuplicateEntry(err) {
		return storage.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Get retrieves a memory by namespace and key.
func (c *Client) Get(ctx context.Context, namespace []string, key string) (*storage.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE namespace = ? AND mem_key = ?`, selectColumns, c.collectionName)

	memory, err := scanMemory(c.db.QueryRowContext(ctx, query, storage.EncodeNamespace(namespace), key), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return memory, nil
}

// Update updates a memory in place.
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
		SET document = ?, fields = ?, embedding = ?, provenance = ?, hash = ?, updated_at = ?
		WHERE namespace = ? AND mem_key = ?
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query,
		memory.Text,
		fieldsJSON,
		storage.FormatVector(memory.Embedding),
		memory.Provenance,
		generateHash(memory.Text),
		memory.UpdatedAt.UTC(),
		storage.EncodeNamespace(memory.Namespace),
		memory.Key,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n == 0 {
		// MySQL reports zero affected rows when nothing changed, so confirm
		// the row is really missing.
		if _, err := c.Get(ctx, memory.Namespace, memory.Key); err != nil {
			return err
		}
	}
	return nil
}

// Delete deletes a memory.
func (c *Client) Delete(ctx context.Context, namespace []string, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = ? AND mem_key = ?", c.collectionName)

	result, err := c.db.ExecContext(ctx, query, storage.EncodeNamespace(namespace), key)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Search performs vector search with cosine_distance.
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

	whereClause, args := buildWhereClause(opts.Namespace, opts.Prefix)

	query := fmt.Sprintf(`
		SELECT %s, 1 - cosine_distance(embedding, ?) AS similarity
		FROM %s
		%s
		ORDER BY cosine_distance(embedding, ?) ASC, updated_at DESC
	`, selectColumns, c.collectionName, whereClause)

	vec := storage.FormatVector(embedding)
	allArgs := append([]interface{}{vec}, args...)
	allArgs = append(allArgs, vec)
	if opts.Limit > 0 {
		query += " LIMIT ?"
		allArgs = append(allArgs, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := scanMemories(rows, true)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	filtered := memories[:0]
	for _, m := range memories {
		if m.Score >= opts.MinScore {
			filtered = append(filtered, m)
		}
	}
	return storage.Rank(filtered, opts.Limit), nil
}

// List retrieves memories by recency.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	whereClause, args := buildWhereClause(opts.Namespace, opts.Prefix)

	limit := opts.Limit
	if limit <= 0 {
		// MySQL needs a LIMIT before OFFSET.
		limit = 1<<31 - 1
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, selectColumns, c.collectionName, whereClause)
	args = append(args, limit, opts.Offset)

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
	if d := c.config.EmbeddingModelDims; d > 0 && len(vec) != d {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vec), d)
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
	return memories, rows.Err()
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
