package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultNATSSubject is the subject failures are published on.
const DefaultNATSSubject = "agentmem.reflection.failed"

// Failure describes a job that exhausted its attempts.
type Failure struct {
	JobID       string    `json:"job_id"`
	DedupeKey   string    `json:"dedupe_key"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	SubmittedAt time.Time `json:"submitted_at"`
	FailedAt    time.Time `json:"failed_at"`
}

func newFailure(job *Job, err error) Failure {
	return Failure{
		JobID:       job.ID,
		DedupeKey:   job.DedupeKey,
		Error:       err.Error(),
		Attempts:    job.Attempts(),
		SubmittedAt: job.SubmittedAt,
		FailedAt:    time.Now(),
	}
}

// Reporter receives job failures out of band.
type Reporter interface {
	Report(ctx context.Context, f Failure) error
}

// LogReporter writes failures to a zap logger.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter returns a reporter logging at error level.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report logs f.
func (r *LogReporter) Report(_ context.Context, f Failure) error {
	r.logger.Error("reflection job failed",
		zap.String("job_id", f.JobID),
		zap.String("dedupe_key", f.DedupeKey),
		zap.Int("attempts", f.Attempts),
		zap.Time("submitted_at", f.SubmittedAt),
		zap.String("error", f.Error))
	return nil
}

// Publisher is the part of *nats.Conn the NATS reporter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSReporter publishes failures as JSON.
type NATSReporter struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
}

// NewNATSReporter publishes on subject through pub.
func NewNATSReporter(pub Publisher, subject string) *NATSReporter {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	r := &NATSReporter{pub: pub, subject: subject}
	if nc, ok := pub.(*nats.Conn); ok {
		r.conn = nc
	}
	return r
}

// DialNATS connects to url and returns a reporter owning the connection.
func DialNATS(url, subject string, opts ...nats.Option) (*NATSReporter, error) {
	opts = append([]nats.Option{nats.Name("agentmem-reflection")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSReporter(nc, subject), nil
}

// Report publishes f.
func (r *NATSReporter) Report(_ context.Context, f Failure) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := r.pub.Publish(r.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", r.subject, err)
	}
	return nil
}

// Close drains the connection when the reporter was created by DialNATS or
// from a *nats.Conn.
func (r *NATSReporter) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Drain()
}

// MultiReporter fans a failure out to several reporters.
type MultiReporter []Reporter

// Report calls every reporter and joins their errors.
func (m MultiReporter) Report(ctx context.Context, f Failure) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
