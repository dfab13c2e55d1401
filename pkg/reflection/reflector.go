package reflection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/session"
)

// Store is the part of core.Client the Reflector writes through.
type Store interface {
	Search(ctx context.Context, ns core.Namespace, query string, opts ...core.SearchOption) (*core.SearchResult, error)
	BatchUpsert(ctx context.Context, ns core.Namespace, items []core.BatchItem, opts ...core.ManageOption) (*core.BatchResult, error)
	BatchDelete(ctx context.Context, ns core.Namespace, keys []string) (*core.BatchResult, error)
}

// Request is a job payload naming the namespace to consolidate into.
type Request struct {
	Namespace  core.Namespace
	Transcript session.Transcript
}

// DefaultNamespace receives facts when the payload carries no namespace.
var DefaultNamespace = core.NewNamespace("memories")

// Reflector is the Handler that extracts memories from a transcript and
// applies them to the store.
type Reflector struct {
	store     Store
	extractor Extractor
	namespace core.Namespace
	recall    int
	logger    *zap.Logger
}

// ReflectorOption configures a Reflector.
type ReflectorOption func(*Reflector)

// WithNamespace sets the namespace used for payloads without one.
func WithNamespace(ns core.Namespace) ReflectorOption {
	return func(r *Reflector) { r.namespace = ns.Clone() }
}

// WithRecall sets how many existing memories are shown to the extractor.
// Default 20.
func WithRecall(n int) ReflectorOption {
	return func(r *Reflector) {
		if n > 0 {
			r.recall = n
		}
	}
}

// WithReflectorLogger sets the logger.
func WithReflectorLogger(logger *zap.Logger) ReflectorOption {
	return func(r *Reflector) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReflector builds a Reflector.
func NewReflector(store Store, extractor Extractor, opts ...ReflectorOption) *Reflector {
	r := &Reflector{
		store:     store,
		extractor: extractor,
		namespace: DefaultNamespace,
		recall:    20,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("reflector")
	return r
}

// NewLLMReflector is NewReflector with an LLMExtractor.
func NewLLMReflector(store Store, p llm.Provider, opts ...ReflectorOption) *Reflector {
	return NewReflector(store, NewLLMExtractor(p), opts...)
}

// Handle implements Handler. The payload must be a Request, a
// session.Transcript or a *session.Session.
func (r *Reflector) Handle(ctx context.Context, job *Job) error {
	req, err := r.request(job.Payload)
	if err != nil {
		return err
	}
	return r.Reflect(ctx, req)
}

func (r *Reflector) request(payload interface{}) (Request, error) {
	switch p := payload.(type) {
	case Request:
		return p, nil
	case *Request:
		return *p, nil
	case session.Transcript:
		return Request{Transcript: p}, nil
	case *session.Session:
		return Request{Transcript: p.Transcript()}, nil
	default:
		return Request{}, fmt.Errorf("reflection: unsupported payload %T", payload)
	}
}

// Reflect runs one extraction and applies the result.
func (r *Reflector) Reflect(ctx context.Context, req Request) error {
	ns := req.Namespace
	if len(ns) == 0 {
		ns = r.namespace
	}

	query := lastUserMessage(req.Transcript)
	found, err := r.store.Search(ctx, ns, query, core.WithLimit(r.recall))
	if err != nil {
		return fmt.Errorf("recall existing memories: %w", err)
	}

	mutations, err := r.extractor.Extract(ctx, req.Transcript, found.Memories)
	if err != nil {
		return err
	}
	if len(mutations) == 0 {
		r.logger.Debug("nothing to consolidate", zap.String("namespace", ns.String()))
		return nil
	}

	var upserts []core.BatchItem
	var deletes []string
	for _, m := range mutations {
		switch m.Action {
		case core.ActionDelete:
			deletes = append(deletes, m.Key)
		default:
			key := m.Key
			if key == "" {
				key = ContentKey(m.Content)
			}
			upserts = append(upserts, core.BatchItem{Key: key, Content: core.Text(m.Content)})
		}
	}

	start := time.Now()
	var errs []error
	if len(upserts) > 0 {
		res, err := r.store.BatchUpsert(ctx, ns, upserts, core.WithProvenance(req.Transcript.ThreadID))
		if err != nil {
			return err
		}
		errs = append(errs, res.Err())
	}
	if len(deletes) > 0 {
		res, err := r.store.BatchDelete(ctx, ns, deletes)
		if err != nil {
			return err
		}
		for _, f := range res.Failed {
			if !errors.Is(f.Error, core.ErrNotFound) {
				errs = append(errs, f.Error)
			}
		}
	}

	r.logger.Info("consolidated memories",
		zap.String("namespace", ns.String()),
		zap.String("thread_id", req.Transcript.ThreadID),
		zap.Int("upserts", len(upserts)),
		zap.Int("deletes", len(deletes)),
		zap.Duration("elapsed", time.Since(start)))
	return errors.Join(errs...)
}

func lastUserMessage(t session.Transcript) string {
	for i := len(t.Turns) - 1; i >= 0; i-- {
		if t.Turns[i].Role == llm.RoleUser {
			return t.Turns[i].Content
		}
	}
	return ""
}
