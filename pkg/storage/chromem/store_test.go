package chromem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/storage"
	chromemStore "github.com/oceanbase/agentmem-go/pkg/storage/chromem"
	"github.com/oceanbase/agentmem-go/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.VectorStore {
		store, err := chromemStore.New(&chromemStore.Config{EmbeddingModelDims: storagetest.Dims})
		require.NoError(t, err)
		return store
	})
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ns := []string{"memories", "alice"}

	store, err := chromemStore.New(&chromemStore.Config{PersistDir: dir, EmbeddingModelDims: storagetest.Dims})
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.Insert(ctx, &storage.Memory{
		Namespace: ns,
		Key:       "lang",
		Text:      "Alice prefers Go",
		Embedding: []float64{1, 0, 0, 0},
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, store.Close())

	reopened, err := chromemStore.New(&chromemStore.Config{PersistDir: dir, EmbeddingModelDims: storagetest.Dims})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, ns, "lang")
	require.NoError(t, err)
	assert.Equal(t, "Alice prefers Go", got.Text)

	nss, err := reopened.Namespaces(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{ns}, nss)
}
