package filingrag

import (
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/chunker"
	"github.com/kailas-cloud/filingrag/internal/repository/embcache"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "redis" or "memory"
	addrs    []string
	password string

	embedder Embedder

	openAIKey        string
	openAIBaseURL    string
	openAIModel      string
	vectorDimensions int

	embedTimeout  time.Duration
	embedRetries  int
	embedBackoff  time.Duration
	maxInputWords int

	parentSize      int
	childSize       int
	overlap         int
	newsMinSize     int
	newsMaxSize     int
	minSectionChars int

	parentFanout   int
	childPerParent int
	defaultTopK    int
	cacheSize      int

	logger *zap.Logger
}

// defaultClientConfig mirrors the server's config defaults so an embedded
// client gets the same retry, timeout and truncation behavior out of the box.
func defaultClientConfig() *clientConfig {
	chunkDefaults := chunker.DefaultConfig()
	return &clientConfig{
		driver:           "memory",
		vectorDimensions: 768,
		embedTimeout:     30 * time.Second,
		embedRetries:     3,
		embedBackoff:     200 * time.Millisecond,
		maxInputWords:    8000,
		parentSize:       chunkDefaults.ParentSize,
		childSize:        chunkDefaults.ChildSize,
		overlap:          chunkDefaults.Overlap,
		newsMinSize:      chunkDefaults.NewsMinSize,
		newsMaxSize:      chunkDefaults.NewsMaxSize,
		minSectionChars:  chunkDefaults.MinSectionChars,
		cacheSize:        embcache.DefaultCapacity,
		logger:           zap.NewNop(),
	}
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithMemory configures the client to use the in-process store.
// Suitable for tests and single-node experiments; nothing is persisted.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
	})
}

// WithEmbedder sets a custom text embedding provider.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithOpenAI configures an OpenAI-compatible embedding provider.
// baseURL may be empty for the default endpoint.
func WithOpenAI(apiKey, baseURL, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.openAIKey = apiKey
		c.openAIBaseURL = baseURL
		c.openAIModel = model
	})
}

// WithEmbeddingRetries overrides the per-call timeout, the retry count
// and the linear backoff step for the embedding provider. Defaults to
// 30s, 3 retries, 200ms.
func WithEmbeddingRetries(timeout time.Duration, maxRetries int, backoff time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedTimeout = timeout
		c.embedRetries = maxRetries
		c.embedBackoff = backoff
	})
}

// WithMaxInputWords caps text sent to the embedding provider, in words.
// Oversized input is truncated instead of failing the call. Defaults to 8000.
func WithMaxInputWords(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxInputWords = n
	})
}

// WithVectorDimensions sets the embedding vector dimension. Defaults to 768.
func WithVectorDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.vectorDimensions = dim
	})
}

// WithChunkSizes overrides the hierarchical chunk size targets, in words.
func WithChunkSizes(parentSize, childSize, overlap int) Option {
	return optionFunc(func(c *clientConfig) {
		c.parentSize = parentSize
		c.childSize = childSize
		c.overlap = overlap
	})
}

// WithNewsBand overrides the news chunk size band [minWords, maxWords].
func WithNewsBand(minWords, maxWords int) Option {
	return optionFunc(func(c *clientConfig) {
		c.newsMinSize = minWords
		c.newsMaxSize = maxWords
	})
}

// WithFanout overrides the two-stage search fan-out: how many parent
// sections are expanded and how many children are pulled per parent.
func WithFanout(parents, childrenPerParent int) Option {
	return optionFunc(func(c *clientConfig) {
		c.parentFanout = parents
		c.childPerParent = childrenPerParent
	})
}

// WithDefaultTopK sets the result count used when a request does not set one.
func WithDefaultTopK(k int) Option {
	return optionFunc(func(c *clientConfig) {
		c.defaultTopK = k
	})
}

// WithQueryCacheSize sets the query embedding LRU capacity.
func WithQueryCacheSize(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheSize = n
	})
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}
