// Package session holds per-conversation state: a thread id and an
// append-only message log.
//
// Sessions are owned by the caller and passed explicitly, either as an
// argument or through a context.Context. A thread id identifies a
// conversation; it never selects a memory namespace.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

// Turn is one logged message.
type Turn struct {
	llm.Message

	// Agent names the worker that produced an assistant turn, if any.
	Agent string `json:"agent,omitempty"`

	At time.Time `json:"at"`
}

// Session is a conversation thread. It is safe for concurrent use.
type Session struct {
	threadID string

	mu    sync.RWMutex
	turns []Turn
}

// New starts a session with a fresh time-ordered (v7) thread id.
func New() *Session {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Session{threadID: id.String()}
}

// Resume reattaches to an existing thread id.
func Resume(threadID string, turns ...Turn) *Session {
	return &Session{threadID: threadID, turns: append([]Turn(nil), turns...)}
}

// ThreadID returns the thread id.
func (s *Session) ThreadID() string {
	return s.threadID
}

// Append logs a message.
func (s *Session) Append(role, content string) {
	s.AppendTurn(Turn{Message: llm.Message{Role: role, Content: content}})
}

// AppendTurn logs a turn. A zero At is set to now.
func (s *Session) AppendTurn(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	s.mu.Lock()
	s.turns = append(s.turns, t)
	s.mu.Unlock()
}

// AddUser logs a user message.
func (s *Session) AddUser(content string) {
	s.Append(llm.RoleUser, content)
}

// AddAssistant logs an assistant message attributed to agent.
func (s *Session) AddAssistant(agent, content string) {
	s.AppendTurn(Turn{Message: llm.Message{Role: llm.RoleAssistant, Content: content}, Agent: agent})
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Turns returns a copy of the log.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns...)
}

// Messages returns the log as llm messages.
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.Message
	}
	return out
}

// LastUserMessage returns the most recent user content, or "".
func (s *Session) LastUserMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == llm.RoleUser {
			return s.turns[i].Content
		}
	}
	return ""
}

// Transcript snapshots the session. Later appends do not change it.
func (s *Session) Transcript() Transcript {
	return Transcript{ThreadID: s.threadID, Turns: s.Turns()}
}

// Transcript is an immutable copy of a session log, the payload handed to
// the reflection scheduler.
type Transcript struct {
	ThreadID string `json:"thread_id"`
	Turns    []Turn `json:"turns"`
}

// Messages returns the transcript as llm messages.
func (t Transcript) Messages() []llm.Message {
	out := make([]llm.Message, len(t.Turns))
	for i, turn := range t.Turns {
		out[i] = turn.Message
	}
	return out
}

// String renders "role: content" lines.
func (t Transcript) String() string {
	var b strings.Builder
	for _, turn := range t.Turns {
		b.WriteString(turn.Role)
		if turn.Agent != "" {
			b.WriteString(" (")
			b.WriteString(turn.Agent)
			b.WriteString(")")
		}
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// Registry tracks live sessions by thread id for servers that resume
// conversations across requests.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for threadID, starting one when absent.
// An empty threadID always starts a new session.
func (r *Registry) GetOrCreate(threadID string) *Session {
	if threadID == "" {
		s := New()
		r.Put(s)
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[threadID]; ok {
		return s
	}
	s := Resume(threadID)
	r.sessions[threadID] = s
	return s
}

// Get returns a registered session.
func (r *Registry) Get(threadID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[threadID]
	return s, ok
}

// Put registers s.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	r.sessions[s.ThreadID()] = s
	r.mu.Unlock()
}

// End removes a session and returns its final transcript.
func (r *Registry) End(threadID string) (Transcript, bool) {
	r.mu.Lock()
	s, ok := r.sessions[threadID]
	delete(r.sessions, threadID)
	r.mu.Unlock()
	if !ok {
		return Transcript{}, false
	}
	return s.Transcript(), true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
