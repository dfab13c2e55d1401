package embedder

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// CacheConfig sizes a Cached provider.
type CacheConfig struct {
	// MaxCost is the cache budget in bytes of vector data. Default 64 MiB.
	MaxCost int64

	// NumCounters tracks key frequency. Default 10x the expected entry count.
	NumCounters int64
}

// Cached memoizes embeddings by exact text. Identical content always maps to
// the same vector, so repeated queries and re-extracted facts skip the provider.
type Cached struct {
	Provider
	cache *ristretto.Cache[string, []float64]
}

// NewCached wraps p with a ristretto cache.
func NewCached(p Provider, cfg CacheConfig) (*Cached, error) {
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		// Assume ~4 KiB per vector.
		cfg.NumCounters = cfg.MaxCost / 4096 * 10
		if cfg.NumCounters < 1000 {
			cfg.NumCounters = 1000
		}
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []float64]{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &Cached{Provider: p, cache: cache}, nil
}

// Embed returns a cached vector or computes and stores one.
func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := c.cache.Get(text); ok {
		return clone(vec), nil
	}
	vec, err := c.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(text, vec)
	return clone(vec), nil
}

// EmbedBatch serves cached texts and sends only the misses to the provider.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := c.cache.Get(t); ok {
			out[i] = clone(vec)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.Provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, vec := range vecs {
		c.store(missing[j], vec)
		out[missingIdx[j]] = clone(vec)
	}
	return out, nil
}

// Close closes the cache and the wrapped provider.
func (c *Cached) Close() error {
	c.cache.Close()
	return c.Provider.Close()
}

func (c *Cached) store(text string, vec []float64) {
	c.cache.Set(text, clone(vec), int64(len(vec)*8))
	// Make the entry visible to the next Get.
	c.cache.Wait()
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
