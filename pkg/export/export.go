// Package export copies memories out of a store into external sinks.
//
// The core client never depends on this package. Snapshot reads namespaces
// through ListStream and hands flat Records to a Sink.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/core"
)

// Record is one exported memory.
type Record struct {
	Key            string         `json:"key"`
	Value          core.Content   `json:"value"`
	Namespace      core.Namespace `json:"namespace"`
	NamespaceName  string         `json:"namespace_name"`
	Provenance     string         `json:"provenance,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	SavedTimestamp time.Time      `json:"saved_timestamp"`
}

// NewRecord converts a memory, stamping it with saved.
func NewRecord(m *core.Memory, saved time.Time) Record {
	return Record{
		Key:            m.Key,
		Value:          m.Content,
		Namespace:      m.Namespace.Clone(),
		NamespaceName:  m.Namespace.String(),
		Provenance:     m.Provenance,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		SavedTimestamp: saved,
	}
}

// Sink receives exported records.
type Sink interface {
	Flush(ctx context.Context, records []Record) error
}

// Source is the read side of a memory store. *core.Client implements it.
type Source interface {
	Namespaces(ctx context.Context, prefix core.Namespace) ([]core.Namespace, error)
	ListStream(ctx context.Context, ns core.Namespace, batchSize int, opts ...core.ListOption) <-chan *core.StreamingListResult
}

// DefaultBatchSize is the page size used by Snapshot.
const DefaultBatchSize = 100

// Snapshot reads every memory of the given namespaces, or of all namespaces
// when none are given.
func Snapshot(ctx context.Context, src Source, namespaces ...core.Namespace) ([]Record, error) {
	if len(namespaces) == 0 {
		all, err := src.Namespaces(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("export: list namespaces: %w", err)
		}
		namespaces = all
	}

	saved := time.Now().UTC()
	var records []Record
	for _, ns := range namespaces {
		for batch := range src.ListStream(ctx, ns, DefaultBatchSize) {
			if batch.Error != nil {
				return nil, fmt.Errorf("export: read %s: %w", ns, batch.Error)
			}
			for _, m := range batch.Memories {
				records = append(records, NewRecord(m, saved))
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Export snapshots the namespaces and flushes the records to every sink.
// All sinks are attempted; their errors are joined.
func Export(ctx context.Context, src Source, sinks []Sink, logger *zap.Logger, namespaces ...core.Namespace) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	records, err := Snapshot(ctx, src, namespaces...)
	if err != nil {
		return 0, err
	}

	counts := make(map[string]int)
	for _, r := range records {
		counts[r.NamespaceName]++
	}
	for ns, n := range counts {
		logger.Info("exporting namespace", zap.String("namespace", ns), zap.Int("memories", n))
	}

	var errs []error
	for _, s := range sinks {
		if err := s.Flush(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return len(records), errors.Join(errs...)
}
