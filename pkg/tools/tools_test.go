package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/embedder/mock"
	"github.com/oceanbase/agentmem-go/pkg/session"
	memoryStore "github.com/oceanbase/agentmem-go/pkg/storage/memory"
	"github.com/oceanbase/agentmem-go/pkg/tools"
)

func newStore(t *testing.T) *core.Client {
	t.Helper()
	client, err := core.New(memoryStore.NewStore(&memoryStore.Config{EmbeddingModelDims: 128}), mock.New(128))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type brokenStore struct{}

func (brokenStore) Manage(context.Context, core.Namespace, core.Action, ...core.ManageOption) (*core.Memory, error) {
	return nil, core.NewMemoryError("Create", core.ErrEmbeddingFailed)
}

func (brokenStore) Search(context.Context, core.Namespace, string, ...core.SearchOption) (*core.SearchResult, error) {
	return nil, core.NewMemoryError("Search", errors.New("connection refused"))
}

func TestManageTool_Lifecycle(t *testing.T) {
	store := newStore(t)
	ns := core.NewNamespace("research_private")
	manage, err := tools.NewManageTool(store, ns)
	require.NoError(t, err)

	sess := session.New()
	ctx := session.NewContext(context.Background(), sess)

	res, err := manage.Invoke(ctx, json.RawMessage(`{"action":"create","key":"k1","content":"RAG survey found"}`))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "k1", res.Key)

	got, err := store.Get(ctx, ns, "k1")
	require.NoError(t, err)
	assert.Equal(t, sess.ThreadID(), got.Provenance)

	res, err = manage.Invoke(ctx, json.RawMessage(`{"action":"create","key":"k1","content":"again"}`))
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, tools.CodeDuplicateKey, res.Error)

	res, err = manage.Invoke(ctx, json.RawMessage(`{"action":"update","key":"k1","content":"RAG survey revised"}`))
	require.NoError(t, err)
	assert.True(t, res.OK())

	res, err = manage.Invoke(ctx, json.RawMessage(`{"action":"delete","key":"k1"}`))
	require.NoError(t, err)
	assert.True(t, res.OK())

	res, err = manage.Invoke(ctx, json.RawMessage(`{"action":"delete","key":"k1"}`))
	require.NoError(t, err)
	assert.Equal(t, tools.CodeNotFound, res.Error)
}

func TestManageTool_InvalidInput(t *testing.T) {
	manage, err := tools.NewManageTool(newStore(t), core.NewNamespace("memories"))
	require.NoError(t, err)
	ctx := context.Background()

	for _, raw := range []string{
		`not json`,
		`{"action":"merge","content":"x"}`,
		`{"action":"create"}`,
		`{"action":"update","content":"x"}`,
		`{"action":"create","content":"x","fields":{"task":"t"}}`,
	} {
		res, err := manage.Invoke(ctx, json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, tools.CodeInvalidInput, res.Error, raw)
	}
}

func TestManageTool_Schema(t *testing.T) {
	store := newStore(t)
	ns := core.NewNamespace("shared_workspace")
	manage, err := tools.NewManageTool(store, ns, tools.WithSchema(tools.SharedWorkspaceSchema))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := manage.Invoke(ctx, json.RawMessage(`{"action":"create","key":"e1","fields":{"task":"review","action":"read","result":"done"}}`))
	require.NoError(t, err)
	require.True(t, res.OK(), res.JSON())

	got, err := store.Get(ctx, ns, "e1")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Content.Fields["result"])

	res, err = manage.Invoke(ctx, json.RawMessage(`{"action":"create","fields":{"task":"review"}}`))
	require.NoError(t, err)
	assert.Equal(t, tools.CodeInvalidInput, res.Error)

	res, err = manage.Invoke(ctx, json.RawMessage(`{"action":"create","content":"free text","fields":{"task":"a","action":"b","result":"c"}}`))
	require.NoError(t, err)
	assert.Equal(t, tools.CodeInvalidInput, res.Error)

	params := manage.Parameters()
	props := params["properties"].(map[string]interface{})
	assert.Contains(t, props, "fields")
	assert.NotContains(t, props, "content")
}

func TestManageTool_InfrastructureErrorsPropagate(t *testing.T) {
	manage, err := tools.NewManageTool(brokenStore{}, core.NewNamespace("memories"))
	require.NoError(t, err)

	_, err = manage.Invoke(context.Background(), json.RawMessage(`{"action":"create","content":"x"}`))
	assert.ErrorIs(t, err, core.ErrEmbeddingFailed)

	search, err := tools.NewSearchTool(brokenStore{}, core.NewNamespace("memories"))
	require.NoError(t, err)
	_, err = search.Invoke(context.Background(), json.RawMessage(`{"query":"x"}`))
	assert.Error(t, err)
}

func TestSearchTool(t *testing.T) {
	store := newStore(t)
	ns := core.NewNamespace("memories")
	ctx := context.Background()

	for _, text := range []string{"user likes tea", "user likes coffee", "meeting on friday"} {
		_, err := store.Create(ctx, ns, core.Text(text))
		require.NoError(t, err)
	}

	search, err := tools.NewSearchTool(store, ns, tools.WithMaxResults(2))
	require.NoError(t, err)

	res, err := search.Invoke(ctx, json.RawMessage(`{"query":"meeting on friday","limit":50}`))
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Len(t, res.Memories, 2)
	assert.Equal(t, "meeting on friday", res.Memories[0].Content)

	res, err = search.Invoke(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, res.Memories, 2)
}

func TestToolsAreBoundToTheirNamespace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	private := core.NewNamespace("research_private")

	_, err := store.Create(ctx, private, core.Text("secret draft"))
	require.NoError(t, err)

	search, err := tools.NewSearchTool(store, core.NewNamespace("writing_private"))
	require.NoError(t, err)

	// A namespace smuggled into the arguments is ignored.
	res, err := search.Invoke(ctx, json.RawMessage(`{"query":"secret draft","namespace":["research_private"]}`))
	require.NoError(t, err)
	assert.Empty(t, res.Memories)
}

func TestToolbox(t *testing.T) {
	store := newStore(t)
	ns := core.NewNamespace("memories")
	manage, err := tools.NewManageTool(store, ns)
	require.NoError(t, err)
	search, err := tools.NewSearchTool(store, ns)
	require.NoError(t, err)

	tb, err := tools.NewToolbox(manage, search)
	require.NoError(t, err)
	assert.Equal(t, 2, tb.Len())
	assert.Len(t, tb.SearchTools(), 1)
	assert.Len(t, tb.ManageTools(), 1)
	assert.Equal(t, []core.Namespace{ns}, tb.Namespaces())

	defs := tb.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, tools.ManageToolName, defs[0].Name)

	res, err := tb.Invoke(context.Background(), "drop_tables", nil)
	require.NoError(t, err)
	assert.Equal(t, tools.CodeUnknownTool, res.Error)

	_, err = tools.NewToolbox(manage, manage)
	assert.Error(t, err)
}

func TestFuncTool(t *testing.T) {
	echo := tools.NewFunc("echo", "Repeats its input.", nil, func(_ context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		return in.Text, nil
	})
	assert.Nil(t, echo.Namespace())
	assert.Equal(t, "object", echo.Parameters()["type"])

	manage, err := tools.NewManageTool(newStore(t), core.NewNamespace("memories"))
	require.NoError(t, err)
	base, err := tools.NewToolbox(manage)
	require.NoError(t, err)
	tb, err := base.With(echo)
	require.NoError(t, err)
	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, tb.Len())
	assert.Len(t, tb.Namespaces(), 1)

	res, err := tb.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "hi", res.Message)

	_, err = tb.Invoke(context.Background(), "echo", json.RawMessage(`not json`))
	assert.Error(t, err)
}
