package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmem "github.com/oceanbase/agentmem-go/pkg/core"
)

func TestClient_ListStream(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	ns := agentmem.NewNamespace("memories")

	for i := 0; i < 7; i++ {
		_, err := client.Create(ctx, ns, agentmem.Text(fmt.Sprintf("fact %d", i)))
		require.NoError(t, err)
	}

	var (
		total   int
		batches int
		last    bool
	)
	for batch := range client.ListStream(ctx, ns, 3) {
		require.NoError(t, batch.Error)
		assert.Equal(t, batches, batch.BatchIndex)
		total += len(batch.Memories)
		batches++
		last = batch.IsLastBatch
	}

	assert.Equal(t, 7, total)
	assert.Equal(t, 3, batches)
	assert.True(t, last)
}

func TestClient_ListStreamInvalidNamespace(t *testing.T) {
	client := newTestClient(t)

	batch, ok := <-client.ListStream(context.Background(), nil, 10)
	require.True(t, ok)
	assert.ErrorIs(t, batch.Error, agentmem.ErrInvalidNamespace)
}

func TestClient_BatchUpsertAndDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	ns := agentmem.NewNamespace("memories")

	result, err := client.BatchUpsert(ctx, ns, []agentmem.BatchItem{
		{Key: "a", Content: agentmem.Text("alpha")},
		{Key: "b", Content: agentmem.Text("beta")},
		{Key: "c", Content: agentmem.Content{}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Len(t, result.Applied, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "c", result.Failed[0].Key)
	assert.ErrorIs(t, result.Err(), agentmem.ErrInvalidInput)

	result, err = client.BatchDelete(ctx, ns, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Len(t, result.Applied, 1)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Failed[0].Error, agentmem.ErrNotFound)

	remaining, err := client.List(ctx, ns)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].Key)
}

func TestClient_BatchCancelledKeepsKeys(t *testing.T) {
	client := newTestClient(t)
	ns := agentmem.NewNamespace("memories")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := client.BatchUpsert(ctx, ns, []agentmem.BatchItem{
		{Key: "lang", Content: agentmem.Text("User likes Go")},
		{Key: "contact", Content: agentmem.Text("User prefers email")},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	require.Len(t, res.Failed, 2)
	var keys []string
	for _, f := range res.Failed {
		assert.ErrorIs(t, f.Error, context.Canceled)
		keys = append(keys, f.Key)
	}
	assert.ElementsMatch(t, []string{"lang", "contact"}, keys)

	res, err = client.BatchDelete(ctx, ns, []string{"gone"})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "gone", res.Failed[0].Key)
	assert.Equal(t, 0, res.Failed[0].Index)
}
