package reflection

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSuperseded is recorded on a pending job replaced by a newer
	// submission with the same dedupe key. It is never returned from Submit.
	ErrSuperseded = errors.New("reflection: job superseded")

	// ErrCancelled is recorded on a job cancelled while pending.
	ErrCancelled = errors.New("reflection: job cancelled")

	// ErrNotPending is returned when cancelling a job that already left the
	// pending state.
	ErrNotPending = errors.New("reflection: job is not pending")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("reflection: scheduler closed")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuperseded Status = "superseded"
	StatusCancelled  Status = "cancelled"
	StatusExecuting  Status = "executing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuperseded, StatusCancelled, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Job is the handle returned by Submit. Payload is dropped once the job is
// superseded or cancelled.
type Job struct {
	ID          string
	DedupeKey   string
	Payload     interface{}
	Delay       time.Duration
	SubmittedAt time.Time
	FireAt      time.Time

	mu       sync.Mutex
	status   Status
	err      error
	attempts int
	timer    *time.Timer
	done     chan struct{}
}

func newJob(id, key string, payload interface{}, delay time.Duration, now time.Time) *Job {
	return &Job{
		ID:          id,
		DedupeKey:   key,
		Payload:     payload,
		Delay:       delay,
		SubmittedAt: now,
		FireAt:      now.Add(delay),
		status:      StatusPending,
		done:        make(chan struct{}),
	}
}

// Status returns the current state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the failure, supersede or cancel reason of a finished job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Attempts is the number of handler invocations so far.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is terminal or ctx ends, and returns the job's
// error (nil for done).
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) transition(from, to Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != from {
		return false
	}
	j.status = to
	return true
}

func (j *Job) attempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}

func (j *Job) finish(status Status, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.err = err
	if status == StatusSuperseded || status == StatusCancelled {
		j.Payload = nil
	}
	close(j.done)
	return true
}
