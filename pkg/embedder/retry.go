package embedder

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryConfig bounds the retries of a Retrying provider.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, first call included. Default 3.
	MaxAttempts int

	// InitialInterval is the first backoff delay. Default 200ms.
	InitialInterval time.Duration

	// MaxInterval caps a single delay. Default 5s.
	MaxInterval time.Duration

	Logger *zap.Logger
}

// Retrying wraps a Provider with exponential backoff.
type Retrying struct {
	Provider
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetrying wraps p so transient failures are retried up to cfg.MaxAttempts.
// Context cancellation and non-temporary StatusErrors are not retried.
func NewRetrying(p Provider, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{Provider: p, cfg: cfg, logger: logger.Named("embedder.retry")}
}

func (r *Retrying) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	return b
}

// Embed calls the wrapped provider with retry.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float64, error) {
	attempt := 0
	return backoff.Retry(ctx, func() ([]float64, error) {
		attempt++
		vec, err := r.Provider.Embed(ctx, text)
		return vec, r.classify(err, attempt)
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(uint(r.cfg.MaxAttempts)))
}

// EmbedBatch calls the wrapped provider with retry.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	attempt := 0
	return backoff.Retry(ctx, func() ([][]float64, error) {
		attempt++
		vecs, err := r.Provider.EmbedBatch(ctx, texts)
		return vecs, r.classify(err, attempt)
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(uint(r.cfg.MaxAttempts)))
}

func (r *Retrying) classify(err error, attempt int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return backoff.Permanent(err)
	}
	r.logger.Warn("embedding attempt failed",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", r.cfg.MaxAttempts),
		zap.Error(err))
	return err
}
