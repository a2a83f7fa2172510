// Package embcache decorates an embedder with a bounded in-process LRU
// cache keyed by exact text match.
package embcache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/filingrag/internal/domain"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 1024

// CachedEmbedder memoizes embeddings of identical text. Entries never need
// invalidation: embeddings of the same text are deterministic and
// immutable, so staleness cannot occur. Safe for concurrent use.
type CachedEmbedder struct {
	inner      domain.Embedder
	cacheTotal *prometheus.CounterVec

	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[[32]byte]*list.Element
}

type cacheEntry struct {
	key [32]byte
	vec []float32
}

// New creates a caching decorator with a fixed capacity. The least
// recently used entry is evicted when an insert would exceed it.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"); nil
// disables metrics.
func New(inner domain.Embedder, capacity int, cacheTotal *prometheus.CounterVec) *CachedEmbedder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &CachedEmbedder{
		inner:      inner,
		cacheTotal: cacheTotal,
		capacity:   capacity,
		order:      list.New(),
		entries:    make(map[[32]byte]*list.Element, capacity),
	}
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
// Cache miss: full EmbeddingResult from inner.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := sha256.Sum256([]byte(text))

	if vec, ok := c.get(key); ok {
		c.incCache("hit")
		return domain.EmbeddingResult{Embedding: vec}, nil
	}
	c.incCache("miss")

	result, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	c.put(key, result.Embedding)
	return result, nil
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedEmbedder) get(key [32]byte) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).vec, true
}

func (c *CachedEmbedder) put(key [32]byte, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheEntry).vec = vec
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vec: vec})
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
