package embedder_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/embedder"
	"github.com/oceanbase/agentmem-go/pkg/embedder/mock"
)

// flaky fails the first failures calls with err, then delegates to mock.
type flaky struct {
	*mock.Embedder
	err      error
	failures int

	mu      sync.Mutex
	calls   int
	batches [][]string
}

func (f *flaky) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures < 0 || f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flaky) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Embedder.Embed(ctx, text)
}

func (f *flaky) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	return f.Embedder.EmbedBatch(ctx, texts)
}

func (f *flaky) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetry(p embedder.Provider) *embedder.Retrying {
	return embedder.NewRetrying(p, embedder.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	p := &flaky{Embedder: mock.New(16), err: errors.New("connection reset"), failures: 2}
	vec, err := fastRetry(p).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Equal(t, 3, p.count())
}

func TestRetrying_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &flaky{Embedder: mock.New(16), err: &embedder.StatusError{Provider: "test", StatusCode: 503}, failures: -1}
	_, err := fastRetry(p).EmbedBatch(context.Background(), []string{"a", "b"})
	var se *embedder.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)
	assert.Equal(t, 3, p.count())
}

func TestRetrying_PermanentErrors(t *testing.T) {
	p := &flaky{Embedder: mock.New(16), err: &embedder.StatusError{Provider: "test", StatusCode: 400}, failures: -1}
	_, err := fastRetry(p).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 1, p.count())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = &flaky{Embedder: mock.New(16), err: context.Canceled, failures: -1}
	_, err = fastRetry(p).Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusError_Temporary(t *testing.T) {
	assert.True(t, (&embedder.StatusError{StatusCode: 429}).Temporary())
	assert.True(t, (&embedder.StatusError{StatusCode: 500}).Temporary())
	assert.False(t, (&embedder.StatusError{StatusCode: 401}).Temporary())
}

func TestCached(t *testing.T) {
	p := &flaky{Embedder: mock.New(16)}
	c, err := embedder.NewCached(p, embedder.CacheConfig{})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	first, err := c.Embed(ctx, "user prefers go")
	require.NoError(t, err)
	first[0] = 42

	second, err := c.Embed(ctx, "user prefers go")
	require.NoError(t, err)
	assert.Equal(t, 1, p.count())
	assert.NotEqual(t, 42.0, second[0])

	vecs, err := c.EmbedBatch(ctx, []string{"user prefers go", "user likes tea"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, second, vecs[0])
	require.Len(t, p.batches, 1)
	assert.Equal(t, []string{"user likes tea"}, p.batches[0])

	_, err = c.EmbedBatch(ctx, []string{"user likes tea"})
	require.NoError(t, err)
	assert.Len(t, p.batches, 1)
	assert.Equal(t, 16, c.Dimensions())
}
