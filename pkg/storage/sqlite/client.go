// Package sqlite provides SQLite implementation for vector storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale applications. Vectors are stored as JSON strings in TEXT fields,
// and similarity search uses in-memory cosine similarity calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Client implements VectorStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing memories.
	collectionName string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a SQLite VectorStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int
}

const selectColumns = `namespace, mem_key, content, fields, embedding, provenance, created_at, updated_at`

// NewClient creates a new SQLite VectorStore client.
//
// Parameters:
//   - cfg: Configuration containing database path, table name, and embedding dimensions
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
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

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables creates the memory table. The (namespace, mem_key) unique
// constraint is what makes concurrent creates resolve first-committer-wins.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL,
			mem_key TEXT NOT NULL,
			content TEXT NOT NULL,
			fields TEXT,
			embedding TEXT NOT NULL,
			provenance TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(namespace, mem_key)
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_namespace_updated ON %s(namespace, updated_at)
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts a memory into the SQLite database.
func (c *Client) Insert(ctx context.Context, memory *storage.Memory) error {
	if err := c.checkDims(memory.Embedding); err != nil {
		return err
	}

	embeddingJSON, fieldsJSON, err := encodeRow(memory)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName, selectColumns)

	_, err = c.db.ExecContext(ctx, query,
		storage.EncodeNamespace(memory.Namespace),
		memory.Key,
		memory.Text,
		fieldsJSON,
		embeddingJSON,
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
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE namespace = ? AND mem_key = ?`, selectColumns, c.collectionName)

	memory, err := scanMemory(c.db.QueryRowContext(ctx, query, storage.EncodeNamespace(namespace), key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return memory, nil
}

// Update rewrites content, vector and timestamps in a single statement.
func (c *Client) Update(ctx context.Context, memory *storage.Memory) error {
	if err := c.checkDims(memory.Embedding); err != nil {
		return err
	}

	embeddingJSON, fieldsJSON, err := encodeRow(memory)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = ?, fields = ?, embedding = ?, provenance = ?, updated_at = ?
		WHERE namespace = ? AND mem_key = ?
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query,
		memory.Text,
		fieldsJSON,
		embeddingJSON,
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

// Delete removes a memory row, vector included.
func (c *Client) Delete(ctx context.Context, namespace []string, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = ? AND mem_key = ?", c.collectionName)

	result, err := c.db.ExecContext(ctx, query, storage.EncodeNamespace(namespace), key)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return requireAffected(result, "Delete")
}

// Search performs vector similarity search using cosine similarity.
//
// SQLite does not have native vector operations, so similarity is calculated
// in memory after loading every row of the namespace (or subtree).
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

	where, args := buildWhereClause(opts.Namespace, opts.Prefix)
	query := fmt.Sprintf(`SELECT %s FROM %s %s`, selectColumns, c.collectionName, where)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}
		memory.Score = storage.CosineSimilarity(embedding, memory.Embedding)
		if memory.Score >= opts.MinScore {
			memories = append(memories, memory)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	return storage.Rank(memories, opts.Limit), nil
}

// List returns memories ordered by recency with pagination.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	where, args := buildWhereClause(opts.Namespace, opts.Prefix)

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, selectColumns, c.collectionName, where)
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		memories = append(memories, memory)
	}
	return memories, rows.Err()
}

// Namespaces lists distinct namespaces under prefix.
func (c *Client) Namespaces(ctx context.Context, prefix []string) ([][]string, error) {
	where, args := buildWhereClause(prefix, true)
	query := fmt.Sprintf(`SELECT DISTINCT namespace FROM %s %s ORDER BY namespace`, c.collectionName, where)

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

// scanMemory scans a memory from a database row or rows.
func scanMemory(scanner rowScanner) (*storage.Memory, error) {
	var memory storage.Memory
	var namespace, embeddingStr string
	var fieldsStr, provenance sql.NullString

	err := scanner.Scan(
		&namespace,
		&memory.Key,
		&memory.Text,
		&fieldsStr,
		&embeddingStr,
		&provenance,
		&memory.CreatedAt,
		&memory.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if memory.Namespace, err = storage.DecodeNamespace(namespace); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(embeddingStr), &memory.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	if memory.Fields, err = storage.UnmarshalFields(fieldsStr.String); err != nil {
		return nil, err
	}
	memory.Provenance = provenance.String

	return &memory, nil
}

func encodeRow(memory *storage.Memory) (string, string, error) {
	embeddingJSON, err := json.Marshal(memory.Embedding)
	if err != nil {
		return "", "", err
	}
	fieldsJSON, err := storage.MarshalFields(memory.Fields)
	if err != nil {
		return "", "", err
	}
	return string(embeddingJSON), fieldsJSON, nil
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
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
