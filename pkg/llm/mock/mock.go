// Package mock provides a scripted llm.Provider for tests and offline demos.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

// ErrExhausted is returned when a Scripted provider has no replies left.
var ErrExhausted = errors.New("mock llm: no scripted replies left")

// Responder computes a reply from the conversation.
type Responder func(ctx context.Context, messages []llm.Message) (string, error)

// Provider replies from a script of responses, then from an optional
// fallback Responder. Every call is recorded.
type Provider struct {
	mu       sync.Mutex
	replies  []string
	fallback Responder
	calls    [][]llm.Message
}

// New returns a provider that answers with replies in order.
func New(replies ...string) *Provider {
	return &Provider{replies: replies}
}

// NewFunc returns a provider that answers with fn.
func NewFunc(fn Responder) *Provider {
	return &Provider{fallback: fn}
}

// Complete pops the next scripted reply.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	p.calls = append(p.calls, append([]llm.Message(nil), messages...))
	if len(p.replies) > 0 {
		reply := p.replies[0]
		p.replies = p.replies[1:]
		p.mu.Unlock()
		return reply, nil
	}
	fallback := p.fallback
	p.mu.Unlock()

	if fallback == nil {
		return "", ErrExhausted
	}
	return fallback(ctx, messages)
}

// Push appends scripted replies.
func (p *Provider) Push(replies ...string) {
	p.mu.Lock()
	p.replies = append(p.replies, replies...)
	p.mu.Unlock()
}

// Calls returns the conversations seen so far.
func (p *Provider) Calls() [][]llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]llm.Message(nil), p.calls...)
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
