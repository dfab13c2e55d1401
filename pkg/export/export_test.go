package export_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/embedder/mock"
	"github.com/oceanbase/agentmem-go/pkg/export"
	memoryStore "github.com/oceanbase/agentmem-go/pkg/storage/memory"
)

var (
	mathNS     = core.NewNamespace("math_memories")
	researchNS = core.NewNamespace("research_memories")
)

func seededStore(t *testing.T) *core.Client {
	t.Helper()
	client, err := core.New(memoryStore.NewStore(&memoryStore.Config{EmbeddingModelDims: 128}), mock.New(128))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	_, err = client.Upsert(ctx, mathNS, "pi", core.Text("pi is about 3.14159"), core.WithProvenance("thread-1"))
	require.NoError(t, err)
	_, err = client.Upsert(ctx, mathNS, "e", core.Text("e is about 2.71828"))
	require.NoError(t, err)
	_, err = client.Upsert(ctx, researchNS, "rag", core.Content{Fields: map[string]interface{}{"topic": "RAG"}})
	require.NoError(t, err)
	return client
}

type recordingSink struct {
	flushed [][]export.Record
	err     error
}

func (s *recordingSink) Flush(_ context.Context, records []export.Record) error {
	s.flushed = append(s.flushed, records)
	return s.err
}

func TestSnapshot(t *testing.T) {
	client := seededStore(t)
	ctx := context.Background()

	all, err := export.Snapshot(ctx, client)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	only, err := export.Snapshot(ctx, client, mathNS)
	require.NoError(t, err)
	require.Len(t, only, 2)
	for _, r := range only {
		assert.Equal(t, "math_memories", r.NamespaceName)
		assert.True(t, mathNS.Equal(r.Namespace))
		assert.False(t, r.SavedTimestamp.IsZero())
		assert.False(t, r.CreatedAt.IsZero())
	}
}

func TestExport_AllSinksAttempted(t *testing.T) {
	client := seededStore(t)
	failing := &recordingSink{err: assert.AnError}
	ok := &recordingSink{}

	n, err := export.Export(context.Background(), client, []export.Sink{failing, ok}, nil, researchNS)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, n)
	require.Len(t, ok.flushed, 1)
	assert.Equal(t, "rag", ok.flushed[0][0].Key)
	assert.Equal(t, "RAG", ok.flushed[0][0].Value.Fields["topic"])
}

func TestJSONFileSink(t *testing.T) {
	client := seededStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := export.NewJSONFileSink(dir)
	require.NoError(t, err)

	records, err := export.Snapshot(ctx, client, mathNS)
	require.NoError(t, err)
	require.NoError(t, sink.Flush(ctx, records))

	loaded, err := sink.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	byKey := map[string]export.Record{}
	for _, r := range loaded {
		byKey[r.Key] = r
	}
	assert.Equal(t, "pi is about 3.14159", byKey["pi"].Value.Text)
	assert.Equal(t, "thread-1", byKey["pi"].Provenance)
	assert.Equal(t, filepath.Join(dir, "memories.json"), sink.Path())

	backups, err := sink.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	fromBackup, err := export.LoadJSON(backups[0])
	require.NoError(t, err)
	assert.Len(t, fromBackup, 2)

	missing, err := export.LoadJSON(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSQLiteSink(t *testing.T) {
	client := seededStore(t)
	ctx := context.Background()

	sink, err := export.NewSQLiteSink(filepath.Join(t.TempDir(), "out", "memories.sqlite"))
	require.NoError(t, err)
	defer sink.Close()

	n, err := export.Export(ctx, client, []export.Sink{sink}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = export.Export(ctx, client, []export.Sink{sink}, nil, mathNS)
	require.NoError(t, err)

	count, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
