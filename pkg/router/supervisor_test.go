package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/agent"
	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/embedder/mock"
	llmmock "github.com/oceanbase/agentmem-go/pkg/llm/mock"
	"github.com/oceanbase/agentmem-go/pkg/router"
	"github.com/oceanbase/agentmem-go/pkg/session"
	memoryStore "github.com/oceanbase/agentmem-go/pkg/storage/memory"
)

type fakeWorker struct {
	name     string
	complete bool
	err      error

	mu   sync.Mutex
	runs int
}

func (w *fakeWorker) Name() string        { return w.name }
func (w *fakeWorker) Description() string { return w.name + " worker" }

func (w *fakeWorker) Run(_ context.Context, sess *session.Session) (*agent.Result, error) {
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	out := w.name + " answered"
	if !w.complete {
		out = w.name + " needs re-routing"
	}
	sess.AddAssistant(w.name, out)
	return &agent.Result{Agent: w.name, Output: out, Complete: w.complete, Steps: 1}, nil
}

func (w *fakeWorker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

func always(name string) router.Classifier {
	return router.ClassifierFunc(func(context.Context, router.Request) (router.Decision, error) {
		return router.Decision{Agent: name}, nil
	})
}

func newStore(t *testing.T) *core.Client {
	t.Helper()
	client, err := core.New(memoryStore.NewStore(&memoryStore.Config{EmbeddingModelDims: 128}), mock.New(128))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func userSession(msg string) *session.Session {
	s := session.New()
	s.AddUser(msg)
	return s
}

func TestSupervisor_DelegatesAndRemembers(t *testing.T) {
	store := newStore(t)
	math := &fakeWorker{name: "math_expert", complete: true}
	research := &fakeWorker{name: "research_expert", complete: true}

	var seen []router.Request
	classifier := router.ClassifierFunc(func(_ context.Context, req router.Request) (router.Decision, error) {
		seen = append(seen, req)
		return router.Decision{Agent: "math_expert"}, nil
	})
	sup, err := router.New(classifier, []router.Worker{math, research},
		router.WithMemory(store, router.DefaultNamespace))
	require.NoError(t, err)

	sess := userSession("what is 12 times 7?")
	res, err := sup.Handle(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "math_expert", res.Agent)
	assert.Equal(t, "math_expert answered", res.Output)
	assert.Equal(t, 0, res.Hops)
	assert.Equal(t, 1, math.count())
	assert.Equal(t, 0, research.count())

	found, err := store.Search(context.Background(), router.DefaultNamespace, "12 times 7")
	require.NoError(t, err)
	require.Len(t, found.Memories, 1)
	assert.Contains(t, found.Memories[0].Content.Text, "was handled by math_expert")
	assert.Equal(t, sess.ThreadID(), found.Memories[0].Provenance)

	_, err = sup.Handle(context.Background(), userSession("what is 3 times 9?"))
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Empty(t, seen[0].Memories)
	require.NotEmpty(t, seen[1].Memories)
	assert.Contains(t, seen[1].Memories[0].Content, "math_expert")
	assert.Equal(t, []router.WorkerInfo{
		{Name: "math_expert", Description: "math_expert worker"},
		{Name: "research_expert", Description: "research_expert worker"},
	}, seen[0].Workers)
}

func TestSupervisor_RepeatedTaskKeepsOneNote(t *testing.T) {
	store := newStore(t)
	math := &fakeWorker{name: "math_expert", complete: true}
	research := &fakeWorker{name: "research_expert", complete: true}

	pick := "math_expert"
	classifier := router.ClassifierFunc(func(context.Context, router.Request) (router.Decision, error) {
		return router.Decision{Agent: pick}, nil
	})
	sup, err := router.New(classifier, []router.Worker{math, research},
		router.WithMemory(store, router.DefaultNamespace))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = sup.Handle(context.Background(), userSession("what is 12 times 7?"))
		require.NoError(t, err)
	}
	pick = "research_expert"
	_, err = sup.Handle(context.Background(), userSession("What is 12  times 7?"))
	require.NoError(t, err)

	notes, err := store.List(context.Background(), router.DefaultNamespace)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, core.ContentKey("what is 12 times 7?"), notes[0].Key)
	assert.Contains(t, notes[0].Content.Text, "was handled by research_expert")
}

func TestSupervisor_ReroutesIncompleteResults(t *testing.T) {
	writing := &fakeWorker{name: "writing_expert", complete: false}
	research := &fakeWorker{name: "research_expert", complete: true}

	var attemptsSeen [][]router.Attempt
	classifier := router.ClassifierFunc(func(_ context.Context, req router.Request) (router.Decision, error) {
		attemptsSeen = append(attemptsSeen, req.Attempts)
		if len(req.Attempts) == 0 {
			return router.Decision{Agent: "writing_expert"}, nil
		}
		return router.Decision{Agent: "research_expert"}, nil
	})
	sup, err := router.New(classifier, []router.Worker{writing, research})
	require.NoError(t, err)

	res, err := sup.Handle(context.Background(), userSession("find papers on RAG"))
	require.NoError(t, err)
	assert.Equal(t, "research_expert", res.Agent)
	assert.Equal(t, 1, res.Hops)
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Complete)
	assert.True(t, res.Attempts[1].Complete)

	require.Len(t, attemptsSeen, 2)
	require.Len(t, attemptsSeen[1], 1)
	assert.Equal(t, "writing_expert", attemptsSeen[1][0].Agent)
}

func TestSupervisor_HopBound(t *testing.T) {
	stuck := &fakeWorker{name: "stuck", complete: false}
	sup, err := router.New(always("stuck"), []router.Worker{stuck})
	require.NoError(t, err)

	sess := userSession("loop please")
	_, err = sup.Handle(context.Background(), sess)
	require.Error(t, err)
	assert.ErrorIs(t, err, router.ErrRoutingLoop)

	var loop *router.RoutingLoopError
	require.ErrorAs(t, err, &loop)
	assert.Equal(t, router.DefaultMaxHops, loop.MaxHops)
	assert.Equal(t, sess.ThreadID(), loop.ThreadID)
	assert.Len(t, loop.Attempts, 6)
	assert.Equal(t, 6, stuck.count())
}

func TestSupervisor_CustomHopBound(t *testing.T) {
	stuck := &fakeWorker{name: "stuck", complete: false}
	sup, err := router.New(always("stuck"), []router.Worker{stuck}, router.WithMaxHops(0))
	require.NoError(t, err)

	_, err = sup.Handle(context.Background(), userSession("x"))
	assert.ErrorIs(t, err, router.ErrRoutingLoop)
	assert.Equal(t, 1, stuck.count())

	_, err = router.New(always("stuck"), []router.Worker{stuck}, router.WithMaxHops(-1))
	assert.Error(t, err)
}

func TestSupervisor_UnknownWorkerCountsAsHop(t *testing.T) {
	only := &fakeWorker{name: "real", complete: true}
	sup, err := router.New(always("imaginary"), []router.Worker{only})
	require.NoError(t, err)

	_, err = sup.Handle(context.Background(), userSession("x"))
	assert.ErrorIs(t, err, router.ErrRoutingLoop)
	assert.Equal(t, 0, only.count())
}

func TestSupervisor_Failures(t *testing.T) {
	boom := errors.New("worker crashed")
	broken := &fakeWorker{name: "broken", err: boom}
	sup, err := router.New(always("broken"), []router.Worker{broken})
	require.NoError(t, err)
	_, err = sup.Handle(context.Background(), userSession("x"))
	assert.ErrorIs(t, err, boom)

	classifyErr := errors.New("classifier down")
	sup, err = router.New(router.ClassifierFunc(func(context.Context, router.Request) (router.Decision, error) {
		return router.Decision{}, classifyErr
	}), []router.Worker{broken})
	require.NoError(t, err)
	_, err = sup.Handle(context.Background(), userSession("x"))
	assert.ErrorIs(t, err, classifyErr)

	_, err = router.New(always("a"), nil)
	assert.ErrorIs(t, err, router.ErrNoWorkers)
	_, err = router.New(always("a"), []router.Worker{&fakeWorker{name: "a"}, &fakeWorker{name: "a"}})
	assert.Error(t, err)
}

func TestSupervisor_Observer(t *testing.T) {
	writing := &fakeWorker{name: "writing_expert", complete: false}
	research := &fakeWorker{name: "research_expert", complete: true}
	calls := 0
	classifier := router.ClassifierFunc(func(context.Context, router.Request) (router.Decision, error) {
		calls++
		if calls == 1 {
			return router.Decision{Agent: "writing_expert"}, nil
		}
		return router.Decision{Agent: "research_expert"}, nil
	})

	var transitions []router.Transition
	sup, err := router.New(classifier, []router.Worker{writing, research},
		router.WithObserver(router.ObserverFunc(func(tr router.Transition) {
			transitions = append(transitions, tr)
		})))
	require.NoError(t, err)

	_, err = sup.Handle(context.Background(), userSession("x"))
	require.NoError(t, err)

	var states []router.State
	for _, tr := range transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []router.State{
		router.StateClassifying,
		router.StateDelegated,
		router.StateAwaitingAgentResult,
		router.StateClassifying,
		router.StateDelegated,
		router.StateAwaitingAgentResult,
		router.StateIdle,
	}, states)
	assert.Equal(t, router.StateIdle, transitions[0].From)
	assert.Equal(t, 1, transitions[len(transitions)-1].Hop)
	assert.Equal(t, "research_expert", transitions[len(transitions)-1].Agent)
}

func TestLLMClassifier(t *testing.T) {
	workers := []router.WorkerInfo{
		{Name: "math_expert", Description: "calculations"},
		{Name: "research_expert", Description: "information gathering"},
	}
	sess := userSession("what's the headcount of the FAANG companies?")

	model := llmmock.New(
		`{"agent":"research_expert","reason":"needs lookup"}`,
		"I would send this to math_expert.",
		"either math_expert or research_expert",
	)
	c := router.NewLLMClassifier(model)
	req := router.Request{
		Transcript: sess.Transcript(),
		Workers:    workers,
		Attempts:   []router.Attempt{{Agent: "writing_expert", Output: "not my area"}},
	}

	d, err := c.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "research_expert", d.Agent)
	assert.Equal(t, "needs lookup", d.Reason)

	system := model.Calls()[0][0].Content
	assert.Contains(t, system, "- math_expert: calculations")
	assert.Contains(t, system, "writing_expert: not my area")
	assert.Contains(t, model.Calls()[0][1].Content, "FAANG")

	d, err = c.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "math_expert", d.Agent)

	_, err = c.Classify(context.Background(), req)
	assert.Error(t, err)
}
