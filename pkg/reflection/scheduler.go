// Package reflection runs memory consolidation off the interactive path.
//
// A Scheduler debounces submissions per dedupe key: submitting again for a
// key whose job is still pending supersedes that job, so after a burst of
// activity exactly one job runs, with the latest payload, Delay after the
// last submission. Jobs are executed by a small worker pool. Failures are
// recorded on the job and sent to a Reporter; they never reach the caller
// of Submit.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyDedupeKey is returned by Submit for an empty key.
var ErrEmptyDedupeKey = errors.New("reflection: empty dedupe key")

// Handler does the work of a job.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Config tunes a Scheduler.
type Config struct {
	// Delay is used by SubmitDefault. Default 30s.
	Delay time.Duration

	// Workers is the pool size. Default 2.
	Workers int

	// MaxRetries is the number of re-runs after a failed attempt. Default 0.
	MaxRetries int

	// RetryInterval is the first delay between attempts. Default 1s.
	RetryInterval time.Duration

	// Timeout bounds one attempt. Zero means no timeout.
	Timeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Delay <= 0 {
		c.Delay = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReporter sets where failures are reported. Default is a LogReporter.
func WithReporter(r Reporter) Option {
	return func(s *Scheduler) { s.reporter = r }
}

// WithMetrics records scheduler activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Scheduler is a debounced, delayed job runner. It is safe for concurrent use.
type Scheduler struct {
	handler  Handler
	cfg      Config
	logger   *zap.Logger
	reporter Reporter
	metrics  *Metrics

	mu      sync.Mutex
	pending map[string]*Job
	running map[string]*keyLock
	closed  bool

	queue    chan *Job
	inflight sync.WaitGroup
	workers  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a scheduler with cfg.Workers workers.
func New(h Handler, cfg Config, opts ...Option) *Scheduler {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		handler: h,
		cfg:     cfg,
		logger:  zap.NewNop(),
		pending: make(map[string]*Job),
		running: make(map[string]*keyLock),
		queue:   make(chan *Job),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("reflection")
	if s.reporter == nil {
		s.reporter = NewLogReporter(s.logger)
	}

	for i := 0; i < cfg.Workers; i++ {
		s.workers.Add(1)
		go s.work()
	}
	return s
}

// Submit schedules payload to run after the given delay. A pending job with
// the same dedupe key is superseded; the new fire time counts from now.
// Submit never blocks on execution.
func (s *Scheduler) Submit(payload interface{}, dedupeKey string, after time.Duration) (*Job, error) {
	if dedupeKey == "" {
		return nil, ErrEmptyDedupeKey
	}
	if after < 0 {
		after = 0
	}
	job := newJob(newJobID(), dedupeKey, payload, after, time.Now())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	prev := s.pending[dedupeKey]
	if prev != nil {
		prev.timer.Stop()
		prev.finish(StatusSuperseded, ErrSuperseded)
	}
	s.pending[dedupeKey] = job
	job.timer = time.AfterFunc(after, func() { s.fire(job) })
	s.metrics.submitted(prev != nil, len(s.pending))
	s.mu.Unlock()

	if prev != nil {
		s.logger.Debug("superseded pending job",
			zap.String("dedupe_key", dedupeKey),
			zap.String("superseded", prev.ID),
			zap.String("job_id", job.ID))
	}
	return job, nil
}

// SubmitDefault submits with Config.Delay.
func (s *Scheduler) SubmitDefault(payload interface{}, dedupeKey string) (*Job, error) {
	return s.Submit(payload, dedupeKey, s.cfg.Delay)
}

// Pending returns the pending job for dedupeKey, if any.
func (s *Scheduler) Pending(dedupeKey string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.pending[dedupeKey]
	return j, ok
}

// Len returns the number of pending jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cancel cancels the pending job for dedupeKey.
func (s *Scheduler) Cancel(dedupeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.pending[dedupeKey]
	if !ok {
		return ErrNotPending
	}
	s.cancelLocked(job)
	return nil
}

// CancelJob cancels job if it is still the pending job for its key.
func (s *Scheduler) CancelJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[job.DedupeKey] != job {
		return ErrNotPending
	}
	s.cancelLocked(job)
	return nil
}

func (s *Scheduler) cancelLocked(job *Job) {
	job.timer.Stop()
	delete(s.pending, job.DedupeKey)
	job.finish(StatusCancelled, ErrCancelled)
	s.metrics.cancelled(len(s.pending))
}

// Flush fires every pending job now and waits for them to finish or for ctx
// to end.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.pending))
	var early []*Job
	for _, j := range s.pending {
		jobs = append(jobs, j)
		if j.timer.Stop() {
			early = append(early, j)
		}
	}
	s.mu.Unlock()

	for _, j := range early {
		go s.fire(j)
	}
	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close cancels pending jobs and waits for executing ones. If ctx ends
// first, running handlers see their context cancelled and Close returns
// ctx.Err() once they have returned.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, j := range s.pending {
		s.cancelLocked(j)
	}
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()

	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		err = ctx.Err()
		s.cancel()
		<-idle
	}

	close(s.queue)
	s.workers.Wait()
	s.cancel()
	return err
}

// fire moves job from its pending slot to the queue, unless it was
// superseded or cancelled in the meantime.
func (s *Scheduler) fire(job *Job) {
	s.mu.Lock()
	if s.pending[job.DedupeKey] != job || !job.transition(StatusPending, StatusExecuting) {
		s.mu.Unlock()
		return
	}
	delete(s.pending, job.DedupeKey)
	s.inflight.Add(1)
	s.metrics.setPending(len(s.pending))
	s.mu.Unlock()

	s.queue <- job
}

func (s *Scheduler) work() {
	defer s.workers.Done()
	for job := range s.queue {
		s.execute(job)
	}
}

func (s *Scheduler) execute(job *Job) {
	defer s.inflight.Done()
	unlock := s.lockKey(job.DedupeKey)
	defer unlock()

	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("dedupe_key", job.DedupeKey))
	logger.Debug("executing job", zap.Duration("late_by", time.Since(job.FireAt)))

	start := time.Now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval

	_, err := backoff.Retry(s.ctx, func() (struct{}, error) {
		n := job.attempt()
		err := s.handle(job)
		if err == nil {
			return struct{}{}, nil
		}
		if s.ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if n <= s.cfg.MaxRetries {
			logger.Warn("job attempt failed, retrying", zap.Int("attempt", n), zap.Error(err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.MaxRetries+1)))

	elapsed := time.Since(start)
	if err != nil {
		job.finish(StatusFailed, err)
		s.metrics.finished(StatusFailed, elapsed)
		logger.Error("job failed", zap.Int("attempts", job.Attempts()), zap.Error(err))

		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := s.reporter.Report(rctx, newFailure(job, err)); rerr != nil {
			logger.Warn("failed to report job failure", zap.Error(rerr))
		}
		return
	}

	job.finish(StatusDone, nil)
	s.metrics.finished(StatusDone, elapsed)
	logger.Debug("job done", zap.Duration("elapsed", elapsed))
}

func (s *Scheduler) handle(job *Job) (err error) {
	ctx := s.ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reflection: handler panic: %v", r)
		}
	}()
	return s.handler.Handle(ctx, job)
}

// lockKey serializes execution of jobs that share a dedupe key.
func (s *Scheduler) lockKey(key string) func() {
	s.mu.Lock()
	kl, ok := s.running[key]
	if !ok {
		kl = &keyLock{}
		s.running[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		s.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.running, key)
		}
		s.mu.Unlock()
	}
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
