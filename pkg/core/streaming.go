package core

import (
	"context"
	"errors"
	"sync"
)

// StreamingListResult contains a batch of memories from ListStream.
type StreamingListResult struct {
	// Memories is a batch of memories.
	Memories []*Memory

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// ListStream pages through a namespace (or subtree with WithPrefixForList) in
// batches of batchSize, most recently updated first.
//
// The channel is closed when all memories have been sent, an error occurs or
// ctx is cancelled. Entries written while the stream is running may be
// skipped or repeated across pages.
//
// Example:
//
//	for batch := range client.ListStream(ctx, ns, 100) {
//	    if batch.Error != nil {
//	        log.Fatal(batch.Error)
//	    }
//	    for _, mem := range batch.Memories {
//	        process(mem)
//	    }
//	}
func (c *Client) ListStream(ctx context.Context, ns Namespace, batchSize int, opts ...ListOption) <-chan *StreamingListResult {
	resultChan := make(chan *StreamingListResult, 1)
	if batchSize <= 0 {
		batchSize = 100
	}
	listOpts := applyListOptions(opts)

	go func() {
		defer close(resultChan)

		send := func(r *StreamingListResult) bool {
			select {
			case resultChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		offset := listOpts.Offset
		for batchIndex := 0; ; batchIndex++ {
			pageOpts := []ListOption{WithLimitForList(batchSize), WithOffsetForList(offset)}
			if listOpts.Prefix {
				pageOpts = append(pageOpts, WithPrefixForList())
			}
			memories, err := c.List(ctx, ns, pageOpts...)
			if err != nil {
				send(&StreamingListResult{BatchIndex: batchIndex, Error: err})
				return
			}

			last := len(memories) < batchSize
			if !send(&StreamingListResult{
				Memories:    memories,
				BatchIndex:  batchIndex,
				IsLastBatch: last,
			}) || last {
				return
			}
			offset += len(memories)
		}
	}()

	return resultChan
}

// BatchItem is one entry of BatchUpsert.
type BatchItem struct {
	Key     string
	Content Content
}

// BatchError contains information about a failed batch item.
type BatchError struct {
	// Key is the key that failed.
	Key string

	// Error is the error that occurred.
	Error error

	// Index is the index of the item in the original batch.
	Index int
}

// BatchResult contains the result of a batch operation.
type BatchResult struct {
	// Applied contains the memories written or deleted.
	Applied []*Memory

	// Failed contains items that failed, along with their errors.
	Failed []BatchError

	// Total is the total number of items in the batch.
	Total int
}

// Err joins the item errors, or returns nil when every item succeeded.
func (r *BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Error)
	}
	return errors.Join(errs...)
}

const maxBatchConcurrency = 10

// BatchUpsert upserts several memories of one namespace concurrently.
// Item failures are collected in the result; the returned error is only set
// for invalid arguments.
//
// Example:
//
//	result, _ := client.BatchUpsert(ctx, ns, []core.BatchItem{
//	    {Key: "lang", Content: core.Text("User likes Python")},
//	    {Key: "contact", Content: core.Text("User prefers email")},
//	}, core.WithProvenance(threadID))
func (c *Client) BatchUpsert(ctx context.Context, ns Namespace, items []BatchItem, opts ...ManageOption) (*BatchResult, error) {
	if err := ns.Validate(); err != nil {
		return nil, NewMemoryError("BatchUpsert", err)
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return c.runBatch(ctx, keys, func(i int) (*Memory, error) {
		return c.Upsert(ctx, ns, items[i].Key, items[i].Content, opts...)
	}), nil
}

// BatchDelete deletes several keys of one namespace concurrently. Keys that
// do not exist are reported in Failed with ErrNotFound.
func (c *Client) BatchDelete(ctx context.Context, ns Namespace, keys []string) (*BatchResult, error) {
	if err := ns.Validate(); err != nil {
		return nil, NewMemoryError("BatchDelete", err)
	}
	return c.runBatch(ctx, keys, func(i int) (*Memory, error) {
		return c.Delete(ctx, ns, keys[i])
	}), nil
}

// runBatch applies fn to every index; keys[i] names item i in failures.
func (c *Client) runBatch(ctx context.Context, keys []string, fn func(i int) (*Memory, error)) *BatchResult {
	n := len(keys)
	result := &BatchResult{
		Total:   n,
		Applied: make([]*Memory, 0, n),
	}
	if n == 0 {
		return result
	}

	// Use a semaphore to limit concurrent operations
	sem := make(chan struct{}, maxBatchConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()

			var m *Memory
			err := ctx.Err()
			if err == nil {
				m, err = fn(index)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, BatchError{Key: keys[index], Error: err, Index: index})
				return
			}
			result.Applied = append(result.Applied, m)
		}(i)
	}

	wg.Wait()
	return result
}
