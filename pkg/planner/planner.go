// Package planner drafts task plans that need human approval.
//
// Approval is a persisted suspend state: Propose drafts a plan and saves a
// checkpoint in PhaseAwaitingApproval, and Resume, called later with the
// human's reply and possibly from another process, either approves the plan
// or revises it. Every outcome is stored as an episode in the planner's
// namespace and recalled as examples for later drafts.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/tools"
)

var (
	// ErrAlreadyPending is returned by Propose while the thread awaits a
	// decision on an earlier plan.
	ErrAlreadyPending = errors.New("planner: a plan is already awaiting approval")

	// ErrNotAwaiting is returned by Resume when the thread has no plan
	// awaiting approval.
	ErrNotAwaiting = errors.New("planner: no plan awaiting approval")
)

// DefaultNamespace holds planning episodes.
var DefaultNamespace = core.NewNamespace("planner_episodes")

// DefaultMaxRevisions bounds rejections per task before it is abandoned.
const DefaultMaxRevisions = 5

// EpisodeSchema is the structure of a stored planning episode.
var EpisodeSchema = &tools.ContentSchema{
	Name: "planning_episode",
	Fields: []tools.Field{
		{Name: "task", Type: tools.FieldString, Required: true, Description: "What the plan was for"},
		{Name: "plan", Type: tools.FieldString, Required: true, Description: "The proposed plan"},
		{Name: "approved", Type: tools.FieldBoolean, Required: true},
		{Name: "outcome", Type: tools.FieldString, Required: true, Description: "approved or rejected"},
		{Name: "feedback", Type: tools.FieldString, Description: "Why the plan was rejected"},
		{Name: "timestamp", Type: tools.FieldString},
	},
}

// Option configures a Planner.
type Option func(*Planner)

// WithMaxRevisions overrides DefaultMaxRevisions.
func WithMaxRevisions(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxRevisions = n
		}
	}
}

// WithRoster lists the agents plans may assign tasks to.
func WithRoster(agents ...string) Option {
	return func(p *Planner) { p.roster = agents }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Planner drafts plans and tracks their approval per thread.
type Planner struct {
	llm          llm.Provider
	checkpoints  CheckpointStore
	search       *tools.SearchTool
	manage       *tools.ManageTool
	roster       []string
	maxRevisions int
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a planner. Episodes are read and written in ns through tools
// bound to it.
func New(p llm.Provider, checkpoints CheckpointStore, store tools.Store, ns core.Namespace, opts ...Option) (*Planner, error) {
	search, err := tools.NewSearchTool(store, ns)
	if err != nil {
		return nil, err
	}
	manage, err := tools.NewManageTool(store, ns, tools.WithSchema(EpisodeSchema))
	if err != nil {
		return nil, err
	}
	pl := &Planner{
		llm:          p,
		checkpoints:  checkpoints,
		search:       search,
		manage:       manage,
		maxRevisions: DefaultMaxRevisions,
		logger:       zap.NewNop(),
		locks:        make(map[string]*threadLock),
	}
	for _, opt := range opts {
		opt(pl)
	}
	pl.logger = pl.logger.Named("planner")
	return pl, nil
}

// Propose drafts a plan for task and suspends the thread awaiting approval.
func (p *Planner) Propose(ctx context.Context, threadID, task string) (*Checkpoint, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("%w: empty task", core.ErrInvalidInput)
	}
	unlock := p.lock(threadID)
	defer unlock()

	existing, err := p.checkpoints.Load(ctx, threadID)
	switch {
	case err == nil && existing.Phase == PhaseAwaitingApproval:
		return nil, ErrAlreadyPending
	case err != nil && !errors.Is(err, ErrCheckpointNotFound):
		return nil, err
	}

	now := time.Now().UTC()
	cp := &Checkpoint{ThreadID: threadID, Phase: PhaseDrafting, Task: task, CreatedAt: now, UpdatedAt: now}
	plan, err := p.draft(ctx, cp)
	if err != nil {
		return nil, err
	}
	cp.Plan = plan
	cp.Revision = 1
	cp.Phase = PhaseAwaitingApproval
	if err := p.checkpoints.Save(ctx, cp); err != nil {
		return nil, err
	}
	p.logger.Info("plan awaiting approval", zap.String("thread_id", threadID), zap.Int("revision", cp.Revision))
	return cp, nil
}

// Resume applies a human reply to the plan awaiting approval. An approval
// moves the thread to PhaseApproved; anything else is treated as feedback
// and produces a revised plan, again awaiting approval, until MaxRevisions
// is reached and the task is abandoned.
func (p *Planner) Resume(ctx context.Context, threadID, reply string) (*Checkpoint, error) {
	return p.ResumeDecision(ctx, threadID, ParseDecision(reply))
}

// ResumeDecision is Resume with an already parsed decision.
func (p *Planner) ResumeDecision(ctx context.Context, threadID string, d Decision) (*Checkpoint, error) {
	unlock := p.lock(threadID)
	defer unlock()

	cp, err := p.checkpoints.Load(ctx, threadID)
	if errors.Is(err, ErrCheckpointNotFound) {
		return nil, ErrNotAwaiting
	}
	if err != nil {
		return nil, err
	}
	if cp.Phase != PhaseAwaitingApproval {
		return nil, ErrNotAwaiting
	}

	p.recordEpisode(ctx, cp, d)
	cp.UpdatedAt = time.Now().UTC()

	if d.Approved {
		cp.Phase = PhaseApproved
		if err := p.checkpoints.Save(ctx, cp); err != nil {
			return nil, err
		}
		p.logger.Info("plan approved", zap.String("thread_id", threadID), zap.Int("revision", cp.Revision))
		return cp, nil
	}

	cp.Feedback = append(cp.Feedback, d.Feedback)
	if cp.Revision >= p.maxRevisions {
		cp.Phase = PhaseAbandoned
		if err := p.checkpoints.Save(ctx, cp); err != nil {
			return nil, err
		}
		p.logger.Warn("plan abandoned", zap.String("thread_id", threadID), zap.Int("revisions", cp.Revision))
		return cp, nil
	}

	cp.Phase = PhaseRevising
	if err := p.checkpoints.Save(ctx, cp); err != nil {
		return nil, err
	}
	plan, err := p.draft(ctx, cp)
	if err != nil {
		// Keep the previous plan pending so the thread can be resumed again.
		cp.Phase = PhaseAwaitingApproval
		if serr := p.checkpoints.Save(ctx, cp); serr != nil {
			return nil, errors.Join(err, serr)
		}
		p.logger.Warn("revision failed", zap.String("thread_id", threadID), zap.Error(err))
		return nil, err
	}
	cp.Plan = plan
	cp.Revision++
	cp.Phase = PhaseAwaitingApproval
	cp.UpdatedAt = time.Now().UTC()
	if err := p.checkpoints.Save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Checkpoint returns the stored state of a thread.
func (p *Planner) Checkpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	return p.checkpoints.Load(ctx, threadID)
}

// Pending lists the threads awaiting approval.
func (p *Planner) Pending(ctx context.Context) ([]*Checkpoint, error) {
	ids, err := p.checkpoints.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Checkpoint
	for _, id := range ids {
		cp, err := p.checkpoints.Load(ctx, id)
		if errors.Is(err, ErrCheckpointNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cp.Phase == PhaseAwaitingApproval {
			out = append(out, cp)
		}
	}
	return out, nil
}

// Forget deletes a thread's checkpoint. Episodes are kept.
func (p *Planner) Forget(ctx context.Context, threadID string) error {
	unlock := p.lock(threadID)
	defer unlock()
	return p.checkpoints.Delete(ctx, threadID)
}

func (p *Planner) draft(ctx context.Context, cp *Checkpoint) (string, error) {
	episodes, err := p.search.Run(ctx, tools.SearchArgs{Query: cp.Task, Limit: 5})
	if err != nil {
		p.logger.Warn("episode recall failed", zap.Error(err))
		episodes = &tools.Result{}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Task: %s\n", cp.Task)
	if cp.Plan != "" {
		fmt.Fprintf(&user, "\nPrevious plan:\n%s\n", cp.Plan)
	}
	if len(cp.Feedback) > 0 {
		user.WriteString("\nFeedback on earlier versions:\n")
		for _, f := range cp.Feedback {
			fmt.Fprintf(&user, "- %s\n", f)
		}
	}

	plan, err := llm.Prompt(ctx, p.llm, p.systemPrompt(episodes.Memories), user.String())
	if err != nil {
		return "", fmt.Errorf("planner: draft: %w", err)
	}
	plan = llm.StripCodeFences(plan)
	if plan == "" {
		return "", errors.New("planner: model returned an empty plan")
	}
	return plan, nil
}

func (p *Planner) systemPrompt(episodes []tools.MemoryView) string {
	var b strings.Builder
	b.WriteString(`You are a planning agent. Break the task into simple, numbered subtasks in execution order. Never execute them.
Format each line as "Task N: [For <agent>] <what to do>".
`)
	if len(p.roster) > 0 {
		b.WriteString("\nAssign each subtask to exactly one of these agents:\n")
		for _, a := range p.roster {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(episodes) > 0 {
		b.WriteString("\nPast planning episodes. Repeat what was approved, avoid what was rejected:\n")
		for _, e := range episodes {
			fmt.Fprintf(&b, "- outcome=%v feedback=%q\n  plan: %v\n",
				e.Fields["outcome"], e.Fields["feedback"], e.Fields["plan"])
		}
	}
	b.WriteString("\nReply with the plan only.\n")
	return b.String()
}

func (p *Planner) recordEpisode(ctx context.Context, cp *Checkpoint, d Decision) {
	outcome := "rejected"
	if d.Approved {
		outcome = "approved"
	}
	res, err := p.manage.Run(ctx, tools.ManageArgs{
		Action: string(core.ActionCreate),
		Fields: map[string]interface{}{
			"task":      cp.Task,
			"plan":      cp.Plan,
			"approved":  d.Approved,
			"outcome":   outcome,
			"feedback":  d.Feedback,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		p.logger.Warn("failed to store planning episode", zap.Error(err))
		return
	}
	if !res.OK() {
		p.logger.Warn("planning episode rejected", zap.String("error", res.Error), zap.String("message", res.Message))
	}
}

func (p *Planner) lock(threadID string) func() {
	p.mu.Lock()
	l, ok := p.locks[threadID]
	if !ok {
		l = &threadLock{}
		p.locks[threadID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, threadID)
		}
		p.mu.Unlock()
	}
}
