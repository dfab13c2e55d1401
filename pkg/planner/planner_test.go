package planner_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/embedder/mock"
	llmmock "github.com/oceanbase/agentmem-go/pkg/llm/mock"
	"github.com/oceanbase/agentmem-go/pkg/planner"
	memoryStore "github.com/oceanbase/agentmem-go/pkg/storage/memory"
)

func newStore(t *testing.T) *core.Client {
	t.Helper()
	client, err := core.New(memoryStore.NewStore(&memoryStore.Config{EmbeddingModelDims: 128}), mock.New(128))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newPlanner(t *testing.T, model *llmmock.Provider, cps planner.CheckpointStore, store *core.Client, opts ...planner.Option) *planner.Planner {
	t.Helper()
	p, err := planner.New(model, cps, store, planner.DefaultNamespace, opts...)
	require.NoError(t, err)
	return p
}

func TestPlanner_ApproveFlow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	model := llmmock.New("Task 1: [For research_agent] find the data")
	p := newPlanner(t, model, planner.NewMemoryCheckpointStore(), store, planner.WithRoster("research_agent", "math_agent"))

	cp, err := p.Propose(ctx, "thread-1", "compute FAANG headcount")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseAwaitingApproval, cp.Phase)
	assert.Equal(t, 1, cp.Revision)
	assert.Equal(t, "Task 1: [For research_agent] find the data", cp.Plan)
	assert.Contains(t, model.Calls()[0][0].Content, "- math_agent")

	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "thread-1", pending[0].ThreadID)

	cp, err = p.Resume(ctx, "thread-1", "yes, proceed")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseApproved, cp.Phase)
	assert.Len(t, model.Calls(), 1)

	episodes, err := store.List(ctx, planner.DefaultNamespace)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, true, episodes[0].Content.Fields["approved"])
	assert.Equal(t, "approved", episodes[0].Content.Fields["outcome"])

	_, err = p.Resume(ctx, "thread-1", "yes")
	assert.ErrorIs(t, err, planner.ErrNotAwaiting)

	pending, err = p.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPlanner_RevisesOnFeedback(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	model := llmmock.New("plan v1", "plan v2")
	p := newPlanner(t, model, planner.NewMemoryCheckpointStore(), store)

	_, err := p.Propose(ctx, "t", "write a report")
	require.NoError(t, err)

	cp, err := p.Resume(ctx, "t", "add a section on costs")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseAwaitingApproval, cp.Phase)
	assert.Equal(t, 2, cp.Revision)
	assert.Equal(t, "plan v2", cp.Plan)
	assert.Equal(t, []string{"add a section on costs"}, cp.Feedback)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1][1].Content, "Previous plan:\nplan v1")
	assert.Contains(t, calls[1][1].Content, "- add a section on costs")
	assert.Contains(t, calls[1][0].Content, "Past planning episodes")
	assert.Contains(t, calls[1][0].Content, "outcome=rejected")
}

func TestPlanner_FailedRevisionStaysPending(t *testing.T) {
	ctx := context.Background()
	model := llmmock.New("plan v1")
	p := newPlanner(t, model, planner.NewMemoryCheckpointStore(), newStore(t))

	_, err := p.Propose(ctx, "t", "write a report")
	require.NoError(t, err)

	_, err = p.Resume(ctx, "t", "add costs")
	assert.ErrorIs(t, err, llmmock.ErrExhausted)

	cp, err := p.Checkpoint(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseAwaitingApproval, cp.Phase)
	assert.Equal(t, 1, cp.Revision)
	assert.Equal(t, "plan v1", cp.Plan)
	assert.Equal(t, []string{"add costs"}, cp.Feedback)

	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	model.Push("plan v2")
	cp, err = p.Resume(ctx, "t", "add costs please")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseAwaitingApproval, cp.Phase)
	assert.Equal(t, 2, cp.Revision)
	assert.Equal(t, "plan v2", cp.Plan)
}

func TestPlanner_AbandonsAfterMaxRevisions(t *testing.T) {
	ctx := context.Background()
	model := llmmock.New("v1", "v2")
	p := newPlanner(t, model, planner.NewMemoryCheckpointStore(), newStore(t), planner.WithMaxRevisions(2))

	_, err := p.Propose(ctx, "t", "task")
	require.NoError(t, err)
	cp, err := p.Resume(ctx, "t", "no")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Revision)

	cp, err = p.Resume(ctx, "t", "still no")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseAbandoned, cp.Phase)
	assert.Len(t, cp.Feedback, 2)

	_, err = p.Resume(ctx, "t", "yes")
	assert.ErrorIs(t, err, planner.ErrNotAwaiting)
}

func TestPlanner_Errors(t *testing.T) {
	ctx := context.Background()
	model := llmmock.New("plan", "other plan")
	p := newPlanner(t, model, planner.NewMemoryCheckpointStore(), newStore(t))

	_, err := p.Resume(ctx, "missing", "yes")
	assert.ErrorIs(t, err, planner.ErrNotAwaiting)

	_, err = p.Propose(ctx, "t", "  ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = p.Propose(ctx, "t", "task")
	require.NoError(t, err)
	_, err = p.Propose(ctx, "t", "another task")
	assert.ErrorIs(t, err, planner.ErrAlreadyPending)

	require.NoError(t, p.Forget(ctx, "t"))
	_, err = p.Checkpoint(ctx, "t")
	assert.ErrorIs(t, err, planner.ErrCheckpointNotFound)

	_, err = p.Propose(ctx, "t", "another task")
	require.NoError(t, err)

	_, err = p.Propose(ctx, "t2", "task")
	assert.ErrorIs(t, err, llmmock.ErrExhausted)
	_, err = p.Checkpoint(ctx, "t2")
	assert.ErrorIs(t, err, planner.ErrCheckpointNotFound)
}

func TestPlanner_ResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newStore(t)

	cps, err := planner.NewFileCheckpointStore(dir)
	require.NoError(t, err)
	first := newPlanner(t, llmmock.New("draft"), cps, store)
	_, err = first.Propose(ctx, "thread/with:odd chars", "migrate the database")
	require.NoError(t, err)

	reopened, err := planner.NewCheckpointStore(core.PlannerConfig{CheckpointStore: "file", CheckpointDir: dir})
	require.NoError(t, err)
	second := newPlanner(t, llmmock.New(), reopened, store)

	cp, err := second.Checkpoint(ctx, "thread/with:odd chars")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseAwaitingApproval, cp.Phase)
	assert.Equal(t, "draft", cp.Plan)

	cp, err = second.Resume(ctx, "thread/with:odd chars", "lgtm")
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseApproved, cp.Phase)
}

func testCheckpointStore(t *testing.T, s planner.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "a")
	assert.ErrorIs(t, err, planner.ErrCheckpointNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	cp := &planner.Checkpoint{
		ThreadID:  "a",
		Phase:     planner.PhaseAwaitingApproval,
		Task:      "task",
		Plan:      "plan",
		Revision:  1,
		Feedback:  []string{"more detail"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.Save(ctx, cp))
	require.NoError(t, s.Save(ctx, &planner.Checkpoint{ThreadID: "b", Phase: planner.PhaseApproved}))

	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, cp.Plan, got.Plan)
	assert.Equal(t, cp.Feedback, got.Feedback)
	assert.True(t, cp.CreatedAt.Equal(got.CreatedAt))

	got.Feedback[0] = "mutated"
	again, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "more detail", again.Feedback[0])

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestMemoryCheckpointStore(t *testing.T) {
	testCheckpointStore(t, planner.NewMemoryCheckpointStore())
}

func TestFileCheckpointStore(t *testing.T) {
	s, err := planner.NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	testCheckpointStore(t, s)
}

func TestRedisCheckpointStore(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}
	client := planner.NewRedisClient(core.PlannerConfig{RedisAddr: addr})
	prefix := "agentmem:test:" + time.Now().Format("150405.000000") + ":"
	s := planner.NewRedisCheckpointStore(client, prefix)
	defer s.Close()
	testCheckpointStore(t, s)
	require.NoError(t, s.Delete(context.Background(), "b"))
}

func TestNewCheckpointStore(t *testing.T) {
	s, err := planner.NewCheckpointStore(core.PlannerConfig{})
	require.NoError(t, err)
	assert.IsType(t, &planner.MemoryCheckpointStore{}, s)

	s, err = planner.NewCheckpointStore(core.PlannerConfig{CheckpointStore: "redis", RedisAddr: "redis://localhost:6379/0"})
	require.NoError(t, err)
	assert.IsType(t, &planner.RedisCheckpointStore{}, s)
	_ = s.(*planner.RedisCheckpointStore).Close()

	_, err = planner.NewCheckpointStore(core.PlannerConfig{CheckpointStore: "etcd"})
	assert.Error(t, err)
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		reply    string
		approved bool
	}{
		{"yes", true},
		{"Yes, proceed.", true},
		{"LGTM", true},
		{"looks good", true},
		{"ok", true},
		{"no", false},
		{"not good", false},
		{"don't proceed", false},
		{"add a step for testing", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			d := planner.ParseDecision(tt.reply)
			assert.Equal(t, tt.approved, d.Approved)
			if tt.approved {
				assert.Empty(t, d.Feedback)
			} else {
				assert.Equal(t, tt.reply, d.Feedback)
			}
		})
	}
}
