package core

import (
	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

// DefaultSearchLimit is used when Search is called without WithLimit.
const DefaultSearchLimit = 10

// ManageOption is a function type for configuring Manage operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type ManageOption func(*ManageOptions)

// ManageOptions contains configuration options for Manage operations.
type ManageOptions struct {
	// Key addresses the memory. Optional for create, required otherwise.
	Key string

	// Content is the new payload. Required for create and update.
	Content *Content

	// Provenance is the originating session or thread id.
	Provenance string
}

// WithKey sets the memory key.
//
// Example:
//
//	memory, _ := client.Manage(ctx, ns, core.ActionUpdate,
//	    core.WithKey("pref_lang"),
//	    core.WithContent(core.Text("User prefers Go")),
//	)
func WithKey(key string) ManageOption {
	return func(opts *ManageOptions) {
		opts.Key = key
	}
}

// WithContent sets the memory payload.
func WithContent(content Content) ManageOption {
	return func(opts *ManageOptions) {
		opts.Content = &content
	}
}

// WithProvenance records the session or thread the write came from.
func WithProvenance(threadID string) ManageOption {
	return func(opts *ManageOptions) {
		opts.Provenance = threadID
	}
}

func applyManageOptions(opts []ManageOption) *ManageOptions {
	options := &ManageOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// Limit is the maximum number of results. Default 10.
	Limit int

	// Prefix searches every namespace below the given one as well.
	Prefix bool

	// MinScore drops results below this cosine similarity. Default -1, which
	// keeps everything.
	MinScore float64
}

// WithLimit caps the number of search results.
//
// Example:
//
//	result, _ := client.Search(ctx, ns, "python", core.WithLimit(5))
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithPrefix makes Search traverse the namespace subtree.
func WithPrefix() SearchOption {
	return func(opts *SearchOptions) {
		opts.Prefix = true
	}
}

// WithMinScore sets the similarity floor.
func WithMinScore(score float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = score
	}
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{Limit: DefaultSearchLimit, MinScore: -1}
	for _, opt := range opts {
		opt(options)
	}
	if options.Limit <= 0 {
		options.Limit = DefaultSearchLimit
	}
	return options
}

// ListOption is a function type for configuring List operations.
type ListOption func(*ListOptions)

// ListOptions contains configuration options for List operations.
type ListOptions struct {
	// Limit caps the result size; zero lists everything.
	Limit int

	// Offset skips the first entries.
	Offset int

	// Prefix lists the namespace subtree.
	Prefix bool
}

// WithLimitForList caps the number of listed memories.
func WithLimitForList(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffsetForList skips the first n memories.
func WithOffsetForList(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithPrefixForList lists the namespace subtree.
func WithPrefixForList() ListOption {
	return func(opts *ListOptions) {
		opts.Prefix = true
	}
}

func applyListOptions(opts []ListOption) *ListOptions {
	options := &ListOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ClientOption configures a Client built with New or NewClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger  *zap.Logger
	llm     llm.Provider
	nodeID  int64
	stripes int
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithLLM attaches a completion provider that LLM returns. The client itself
// never calls it.
func WithLLM(p llm.Provider) ClientOption {
	return func(o *clientOptions) {
		o.llm = p
	}
}

// WithNodeID sets the snowflake node used for generated keys (0-1023).
// Processes writing to the same backend should use distinct ids.
func WithNodeID(id int64) ClientOption {
	return func(o *clientOptions) {
		o.nodeID = id
	}
}

// WithLockStripes sets the number of key lock stripes. Default 256.
func WithLockStripes(n int) ClientOption {
	return func(o *clientOptions) {
		o.stripes = n
	}
}
