// Package router delegates each user turn to one of several worker agents.
//
// The Supervisor classifies the turn, runs the chosen worker, and re-routes
// while workers report the task incomplete. Re-routes are bounded: a turn
// that would need more than MaxHops fails with a *RoutingLoopError instead
// of looping.
package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/agent"
	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/session"
	"github.com/oceanbase/agentmem-go/pkg/tools"
)

// DefaultMaxHops bounds re-routes per turn.
const DefaultMaxHops = 5

// DefaultNamespace holds routing memories.
var DefaultNamespace = core.NewNamespace("supervisor_memories")

// ErrNoWorkers is returned by New without workers.
var ErrNoWorkers = errors.New("router: no workers")

// Worker is an agent the supervisor can delegate to. *agent.Agent
// implements it.
type Worker interface {
	Name() string
	Description() string
	Run(ctx context.Context, sess *session.Session) (*agent.Result, error)
}

// Result is the outcome of a routed turn.
type Result struct {
	Agent    string
	Output   string
	Hops     int
	Attempts []Attempt
}

// Option configures a Supervisor.
type Option func(*Supervisor) error

// WithMaxHops overrides DefaultMaxHops.
func WithMaxHops(n int) Option {
	return func(s *Supervisor) error {
		if n < 0 {
			return fmt.Errorf("router: negative max hops %d", n)
		}
		s.maxHops = n
		return nil
	}
}

// WithMemory gives the supervisor its own namespace: routing memories are
// recalled from it before classifying and a note is written after every
// completed turn.
func WithMemory(store tools.Store, ns core.Namespace) Option {
	return func(s *Supervisor) error {
		search, err := tools.NewSearchTool(store, ns)
		if err != nil {
			return err
		}
		manage, err := tools.NewManageTool(store, ns)
		if err != nil {
			return err
		}
		s.search, s.manage = search, manage
		return nil
	}
}

// WithObserver reports state transitions to o.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) error {
		s.observer = o
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// Supervisor routes turns. It holds no per-turn state and can serve many
// sessions concurrently.
type Supervisor struct {
	classifier Classifier
	workers    map[string]Worker
	roster     []WorkerInfo
	maxHops    int
	search     *tools.SearchTool
	manage     *tools.ManageTool
	observer   Observer
	logger     *zap.Logger
}

// New builds a supervisor over workers. Worker names must be unique.
func New(classifier Classifier, workers []Worker, opts ...Option) (*Supervisor, error) {
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}
	s := &Supervisor{
		classifier: classifier,
		workers:    make(map[string]Worker, len(workers)),
		maxHops:    DefaultMaxHops,
		logger:     zap.NewNop(),
	}
	for _, w := range workers {
		if _, dup := s.workers[w.Name()]; dup {
			return nil, fmt.Errorf("router: duplicate worker %q", w.Name())
		}
		s.workers[w.Name()] = w
		s.roster = append(s.roster, WorkerInfo{Name: w.Name(), Description: w.Description()})
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.Named("router")
	return s, nil
}

// Workers lists the roster in registration order.
func (s *Supervisor) Workers() []WorkerInfo {
	return append([]WorkerInfo(nil), s.roster...)
}

// Handle routes the latest user message of sess.
func (s *Supervisor) Handle(ctx context.Context, sess *session.Session) (*Result, error) {
	t := &turn{s: s, threadID: sess.ThreadID(), state: StateIdle}
	ctx = session.NewContext(ctx, sess)

	var attempts []Attempt
	for {
		t.move(StateClassifying, "")
		decision, err := s.classifier.Classify(ctx, Request{
			Transcript: sess.Transcript(),
			Workers:    s.Workers(),
			Memories:   s.recall(ctx, sess.LastUserMessage()),
			Attempts:   attempts,
		})
		if err != nil {
			t.move(StateFailed, "")
			return nil, err
		}

		worker, ok := s.workers[decision.Agent]
		if !ok {
			s.logger.Warn("classifier chose unknown worker", zap.String("agent", decision.Agent))
			attempts = append(attempts, Attempt{Agent: decision.Agent, Output: "no such worker"})
			if err := t.reroute(attempts); err != nil {
				return nil, err
			}
			continue
		}

		t.move(StateDelegated, worker.Name())
		t.move(StateAwaitingAgentResult, worker.Name())
		res, err := worker.Run(ctx, sess)
		if err != nil {
			t.move(StateFailed, worker.Name())
			return nil, fmt.Errorf("router: worker %s: %w", worker.Name(), err)
		}
		attempts = append(attempts, Attempt{Agent: worker.Name(), Output: res.Output, Complete: res.Complete})

		if res.Complete {
			t.move(StateIdle, worker.Name())
			s.remember(ctx, sess.LastUserMessage(), worker.Name())
			return &Result{Agent: worker.Name(), Output: res.Output, Hops: t.hop, Attempts: attempts}, nil
		}
		if err := t.reroute(attempts); err != nil {
			return nil, err
		}
	}
}

func (s *Supervisor) recall(ctx context.Context, query string) []tools.MemoryView {
	if s.search == nil {
		return nil
	}
	res, err := s.search.Run(ctx, tools.SearchArgs{Query: query, Limit: 5})
	if err != nil {
		s.logger.Warn("routing memory recall failed", zap.Error(err))
		return nil
	}
	return res.Memories
}

func (s *Supervisor) remember(ctx context.Context, task, agentName string) {
	if s.manage == nil || task == "" {
		return
	}
	// Keyed by task, so a repeated task refreshes its note.
	args := tools.ManageArgs{
		Action:  string(core.ActionCreate),
		Key:     core.ContentKey(task),
		Content: fmt.Sprintf("Task %q was handled by %s", task, agentName),
	}
	res, err := s.manage.Run(ctx, args)
	if err == nil && res.Error == tools.CodeDuplicateKey {
		args.Action = string(core.ActionUpdate)
		res, err = s.manage.Run(ctx, args)
	}
	if err != nil {
		s.logger.Warn("failed to record routing memory", zap.Error(err))
		return
	}
	if !res.OK() {
		s.logger.Warn("routing memory rejected", zap.String("error", res.Error), zap.String("message", res.Message))
	}
}

// turn tracks one pass through the state machine.
type turn struct {
	s        *Supervisor
	threadID string
	state    State
	hop      int
}

func (t *turn) move(to State, agentName string) {
	from := t.state
	t.state = to
	if t.s.observer != nil {
		t.s.observer.OnTransition(Transition{ThreadID: t.threadID, From: from, To: to, Agent: agentName, Hop: t.hop})
	}
}

func (t *turn) reroute(attempts []Attempt) error {
	t.hop++
	if t.hop > t.s.maxHops {
		t.move(StateFailed, "")
		err := &RoutingLoopError{ThreadID: t.threadID, MaxHops: t.s.maxHops, Attempts: attempts}
		t.s.logger.Error("routing loop", zap.String("thread_id", t.threadID), zap.Error(err))
		return err
	}
	t.s.logger.Debug("re-routing", zap.String("thread_id", t.threadID), zap.Int("hop", t.hop))
	return nil
}
