package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	jsonFileName = "memories.json"
	backupDir    = "backups"
)

// JSONFileSink writes records to <dir>/memories.json and keeps a copy of
// every flush under <dir>/backups.
type JSONFileSink struct {
	dir string
	now func() time.Time
}

// NewJSONFileSink creates dir and its backup directory.
func NewJSONFileSink(dir string) (*JSONFileSink, error) {
	if err := os.MkdirAll(filepath.Join(dir, backupDir), 0o755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", dir, err)
	}
	return &JSONFileSink{dir: dir, now: time.Now}, nil
}

// Path is the main export file.
func (s *JSONFileSink) Path() string {
	return filepath.Join(s.dir, jsonFileName)
}

// Flush overwrites the export file and writes a timestamped backup.
func (s *JSONFileSink) Flush(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}
	if err := writeFileAtomic(s.Path(), data); err != nil {
		return err
	}
	backup := filepath.Join(s.dir, backupDir,
		fmt.Sprintf("memories_backup_%s.json", s.now().Format("20060102_150405")))
	return writeFileAtomic(backup, data)
}

// Backups lists the backup files, oldest first.
func (s *JSONFileSink) Backups() ([]string, error) {
	return filepath.Glob(filepath.Join(s.dir, backupDir, "memories_backup_*.json"))
}

// Load reads the records of the last flush. A missing file yields no
// records.
func (s *JSONFileSink) Load() ([]Record, error) {
	return LoadJSON(s.Path())
}

// LoadJSON reads records written by a JSONFileSink.
func LoadJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("export: decode %s: %w", path, err)
	}
	return records, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	return nil
}
