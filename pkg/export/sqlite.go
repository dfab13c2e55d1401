package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createExportTable = `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT,
	content TEXT,
	namespace TEXT,
	provenance TEXT,
	created_at TEXT,
	updated_at TEXT,
	saved_timestamp TEXT
)`

// SQLiteSink appends records to a memories table. Every flush adds rows,
// so the table keeps the history of exports.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("export: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("export: open sqlite: %w", err)
	}
	if _, err := db.Exec(createExportTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("export: create table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Flush inserts records in one transaction.
func (s *SQLiteSink) Flush(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO memories
		(key, content, namespace, provenance, created_at, updated_at, saved_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		value, err := json.Marshal(r.Value)
		if err != nil {
			return fmt.Errorf("export: encode %s: %w", r.Key, err)
		}
		ns, err := json.Marshal(r.Namespace)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.Key, string(value), string(ns), r.Provenance,
			r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
			r.SavedTimestamp.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("export: insert %s: %w", r.Key, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of exported rows.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
