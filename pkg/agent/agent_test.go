package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/agent"
	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/embedder/mock"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	llmmock "github.com/oceanbase/agentmem-go/pkg/llm/mock"
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

func memoryToolbox(t *testing.T, store tools.Store, ns core.Namespace) *tools.Toolbox {
	t.Helper()
	manage, err := tools.NewManageTool(store, ns)
	require.NoError(t, err)
	search, err := tools.NewSearchTool(store, ns)
	require.NoError(t, err)
	tb, err := tools.NewToolbox(manage, search)
	require.NoError(t, err)
	return tb
}

func TestAgent_RemembersAcrossThreads(t *testing.T) {
	store := newStore(t)
	ns := core.NewNamespace("memories")
	model := llmmock.New(
		`{"tool":"manage_memory","arguments":{"action":"create","content":"User prefers dark display mode"}}`,
		`{"answer":"Noted, dark mode it is.","complete":true}`,
		`{"answer":"You prefer dark display mode.","complete":true}`,
	)
	a := agent.New("assistant", "assistant", model, memoryToolbox(t, store, ns))
	ctx := context.Background()

	threadA := session.New()
	threadA.AddUser("dark. Remember that.")
	res, err := a.Run(ctx, threadA)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 2, res.Steps)
	require.Len(t, res.ToolCalls, 1)
	assert.True(t, res.ToolCalls[0].Result.OK())
	assert.Equal(t, "Noted, dark mode it is.", threadA.Turns()[threadA.Len()-1].Content)

	threadB := session.New()
	threadB.AddUser("Hey there. Do you remember me? What are my preferences?")
	res, err = a.Run(ctx, threadB)
	require.NoError(t, err)
	assert.Equal(t, "You prefer dark display mode.", res.Output)

	calls := model.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[2][0].Content, "User prefers dark display mode")
	assert.Len(t, calls[2], 2, "thread B history must not include thread A")

	found, err := store.Search(ctx, ns, "display mode")
	require.NoError(t, err)
	require.Len(t, found.Memories, 1)
	assert.Equal(t, threadA.ThreadID(), found.Memories[0].Provenance)
}

func TestAgent_ToolResultsAreFedBack(t *testing.T) {
	store := newStore(t)
	model := llmmock.New(
		`{"tool":"drop_tables","arguments":{}}`,
		`{"answer":"done","complete":true}`,
	)
	a := agent.New("worker", "worker", model, memoryToolbox(t, store, core.NewNamespace("memories")))
	sess := session.New()
	sess.AddUser("do something")

	res, err := a.Run(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, tools.CodeUnknownTool, res.ToolCalls[0].Result.Error)

	second := model.Calls()[1]
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "unknown_tool")
}

func TestAgent_StepLimit(t *testing.T) {
	model := llmmock.NewFunc(func(context.Context, []llm.Message) (string, error) {
		return `{"tool":"search_memory","arguments":{"query":"anything"}}`, nil
	})
	a := agent.New("looper", "worker", model, memoryToolbox(t, newStore(t), core.NewNamespace("memories")),
		agent.WithMaxSteps(3))
	sess := session.New()
	sess.AddUser("loop forever")

	res, err := a.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 3, res.Steps)
	assert.Len(t, res.ToolCalls, 3)
}

func TestAgent_PlainTextAndIncomplete(t *testing.T) {
	model := llmmock.New("Paris is the capital of France.", `{"answer":"I only do math","complete":false}`)
	a := agent.New("plain", "geographer", model, nil)

	sess := session.New()
	sess.AddUser("capital of France?")
	res, err := a.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, "Paris is the capital of France.", res.Output)

	sess.AddUser("write me a poem")
	res, err = a.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, "I only do math", res.Output)
}

func TestAgent_ModelErrorFailsTurn(t *testing.T) {
	boom := errors.New("rate limited")
	model := llmmock.NewFunc(func(context.Context, []llm.Message) (string, error) { return "", boom })
	a := agent.New("broken", "worker", model, nil)
	sess := session.New()
	sess.AddUser("hi")

	_, err := a.Run(context.Background(), sess)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sess.Len())
}

func TestAgent_FuncTools(t *testing.T) {
	add := tools.NewFunc("add", "Add two numbers.", nil, func(_ context.Context, raw json.RawMessage) (string, error) {
		var args struct{ A, B float64 }
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", err
		}
		return strconv.FormatFloat(args.A+args.B, 'f', -1, 64), nil
	})
	tb, err := tools.NewToolbox(add)
	require.NoError(t, err)
	assert.Empty(t, tb.Namespaces())

	model := llmmock.New(`{"tool":"add","arguments":{"a":2,"b":3}}`, `{"answer":"5"}`)
	a := agent.New("math_expert", "math expert", model, tb)
	sess := session.New()
	sess.AddUser("2+3?")

	res, err := a.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "5", res.ToolCalls[0].Result.Message)
	assert.True(t, res.Complete)
}
