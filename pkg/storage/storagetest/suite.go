// Package storagetest holds the behaviour every storage.VectorStore must
// share. Backend packages run it from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Dims is the vector size the suite writes. Factories must build stores
// that accept it.
const Dims = 4

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.VectorStore

var base = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func entry(ns []string, key, text string, vec []float64, age time.Duration) *storage.Memory {
	at := base.Add(-age)
	return &storage.Memory{
		Namespace: ns,
		Key:       key,
		Text:      text,
		Embedding: vec,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.VectorStore)
	}{
		{"InsertGet", testInsertGet},
		{"Update", testUpdate},
		{"Delete", testDelete},
		{"NamespaceIsolation", testNamespaceIsolation},
		{"SearchRanking", testSearchRanking},
		{"SearchWithoutEmbedding", testSearchWithoutEmbedding},
		{"ListPaging", testListPaging},
		{"DimensionMismatch", testDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testInsertGet(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	ns := []string{"memories", "alice"}
	m := entry(ns, "lang", "Alice prefers Go", []float64{1, 0, 0, 0}, 0)
	m.Fields = map[string]interface{}{"topic": "language", "confirmed": true}
	m.Provenance = "thread-1"
	require.NoError(t, s.Insert(ctx, m))

	got, err := s.Get(ctx, ns, "lang")
	require.NoError(t, err)
	assert.Equal(t, ns, got.Namespace)
	assert.Equal(t, "Alice prefers Go", got.Text)
	assert.Equal(t, "language", got.Fields["topic"])
	assert.Equal(t, true, got.Fields["confirmed"])
	assert.Equal(t, "thread-1", got.Provenance)
	assert.InDeltaSlice(t, m.Embedding, got.Embedding, 1e-6)
	assert.WithinDuration(t, m.CreatedAt, got.CreatedAt, time.Second)

	err = s.Insert(ctx, entry(ns, "lang", "again", []float64{0, 1, 0, 0}, 0))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = s.Get(ctx, ns, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdate(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	ns := []string{"memories"}
	require.NoError(t, s.Insert(ctx, entry(ns, "k", "old", []float64{1, 0, 0, 0}, time.Hour)))

	next := entry(ns, "k", "new", []float64{0, 1, 0, 0}, 0)
	next.Provenance = "thread-2"
	require.NoError(t, s.Update(ctx, next))

	got, err := s.Get(ctx, ns, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Text)
	assert.Equal(t, "thread-2", got.Provenance)
	assert.WithinDuration(t, base.Add(-time.Hour), got.CreatedAt, time.Second)
	assert.WithinDuration(t, base, got.UpdatedAt, time.Second)

	err = s.Update(ctx, entry(ns, "missing", "x", []float64{1, 0, 0, 0}, 0))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDelete(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	ns := []string{"memories"}
	require.NoError(t, s.Insert(ctx, entry(ns, "k", "text", []float64{1, 0, 0, 0}, 0)))

	require.NoError(t, s.Delete(ctx, ns, "k"))
	_, err := s.Get(ctx, ns, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, ns, "k"), storage.ErrNotFound)

	found, err := s.Search(ctx, []float64{1, 0, 0, 0}, &storage.SearchOptions{Namespace: ns, MinScore: -1})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testNamespaceIsolation(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	vec := []float64{1, 1, 0, 0}
	require.NoError(t, s.Insert(ctx, entry([]string{"a"}, "root", "root", vec, 0)))
	require.NoError(t, s.Insert(ctx, entry([]string{"a", "b"}, "k", "a/b", vec, 0)))
	require.NoError(t, s.Insert(ctx, entry([]string{"a", "c"}, "k", "a/c", vec, 0)))
	require.NoError(t, s.Insert(ctx, entry([]string{"ab"}, "k", "ab", vec, 0)))

	only, err := s.Search(ctx, vec, &storage.SearchOptions{Namespace: []string{"a", "b"}, MinScore: -1})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "a/b", only[0].Text)

	subtree, err := s.Search(ctx, vec, &storage.SearchOptions{Namespace: []string{"a"}, Prefix: true, MinScore: -1})
	require.NoError(t, err)
	assert.Len(t, subtree, 3)
	for _, m := range subtree {
		assert.NotEqual(t, "ab", m.Text)
	}

	listed, err := s.List(ctx, &storage.ListOptions{Namespace: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "root", listed[0].Text)

	nss, err := s.Namespaces(ctx, []string{"a"})
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]string{{"a"}, {"a", "b"}, {"a", "c"}}, nss)

	all, err := s.Namespaces(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testSearchRanking(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	ns := []string{"rank"}
	require.NoError(t, s.Insert(ctx, entry(ns, "exact", "exact", []float64{1, 0, 0, 0}, 0)))
	require.NoError(t, s.Insert(ctx, entry(ns, "close", "close", []float64{1, 1, 0, 0}, 0)))
	require.NoError(t, s.Insert(ctx, entry(ns, "far", "far", []float64{0, 0, 1, 0}, 0)))
	require.NoError(t, s.Insert(ctx, entry(ns, "tie_old", "tie_old", []float64{2, 0, 0, 0}, time.Hour)))

	query := []float64{1, 0, 0, 0}
	res, err := s.Search(ctx, query, &storage.SearchOptions{Namespace: ns, MinScore: -1})
	require.NoError(t, err)
	require.Len(t, res, 4)
	assert.Equal(t, "exact", res[0].Key, "ties go to the most recent entry")
	assert.Equal(t, "tie_old", res[1].Key)
	assert.Equal(t, "close", res[2].Key)
	assert.Equal(t, "far", res[3].Key)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.InDelta(t, 0.0, res[3].Score, 1e-6)

	limited, err := s.Search(ctx, query, &storage.SearchOptions{Namespace: ns, Limit: 2, MinScore: -1})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	filtered, err := s.Search(ctx, query, &storage.SearchOptions{Namespace: ns, MinScore: 0.5})
	require.NoError(t, err)
	assert.Len(t, filtered, 3)
}

func testSearchWithoutEmbedding(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	ns := []string{"recent"}
	require.NoError(t, s.Insert(ctx, entry(ns, "old", "old", []float64{1, 0, 0, 0}, 2*time.Hour)))
	require.NoError(t, s.Insert(ctx, entry(ns, "new", "new", []float64{0, 1, 0, 0}, 0)))
	require.NoError(t, s.Insert(ctx, entry(ns, "mid", "mid", []float64{0, 0, 1, 0}, time.Hour)))

	res, err := s.Search(ctx, nil, &storage.SearchOptions{Namespace: ns, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "new", res[0].Key)
	assert.Equal(t, "mid", res[1].Key)
}

func testListPaging(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	ns := []string{"paged"}
	keys := []string{"k0", "k1", "k2", "k3", "k4"}
	for i, k := range keys {
		require.NoError(t, s.Insert(ctx, entry(ns, k, k, []float64{1, 0, 0, 0}, time.Duration(i)*time.Minute)))
	}

	var seen []string
	for offset := 0; ; offset += 2 {
		page, err := s.List(ctx, &storage.ListOptions{Namespace: ns, Limit: 2, Offset: offset})
		require.NoError(t, err)
		for _, m := range page {
			seen = append(seen, m.Key)
		}
		if len(page) < 2 {
			break
		}
	}
	assert.Equal(t, keys, seen)
}

func testDimensionMismatch(t *testing.T, s storage.VectorStore) {
	ctx := context.Background()
	err := s.Insert(ctx, entry([]string{"dims"}, "k", "k", []float64{1, 0}, 0))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	_, err = s.Search(ctx, []float64{1, 0, 0}, &storage.SearchOptions{Namespace: []string{"dims"}})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}
