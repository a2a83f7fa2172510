// Package retrieval implements two-stage hierarchical search over indexed
// documents: broad section match against parent chunks first, then
// fine-grained match among the children of the matched sections. The split
// keeps topical breadth across a filing's sections while still surfacing
// the most specific passages within each.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/search/result"
	"github.com/kailas-cloud/filingrag/internal/metrics"
)

// WarningNotIndexable marks a response for a document whose non-empty text
// produced zero chunks even after the flat fallback. A data-quality signal,
// not a failure.
const WarningNotIndexable = "document produced no indexable chunks"

// Config holds the engine's search parameters.
type Config struct {
	ParentFanout   int // stage-1 parent sections to expand
	ChildPerParent int // stage-2 children retrieved per parent
	DefaultTopK    int
}

// Request is one retrieval call. RawText enables index-on-first-query:
// when set, the document is (re-)indexed if absent or its content hash
// changed since the last indexing run.
type Request struct {
	DocumentKey string
	Source      domain.SourceType
	Query       string
	TopK        int
	RawText     string
}

// Response carries the ranked results. Warning is set instead of an error
// for non-fatal data-quality conditions.
type Response struct {
	Results []result.Result
	Warning string
}

// Service is the hierarchical retrieval engine.
type Service struct {
	store   ChunkStore
	embed   Embedder
	batch   BatchEmbedder
	chunker Chunker
	cfg     Config
	logger  *zap.Logger
}

// New creates the retrieval engine with injected collaborators.
func New(store ChunkStore, embed Embedder, batch BatchEmbedder, chunker Chunker, cfg Config, logger *zap.Logger) *Service {
	if cfg.ParentFanout <= 0 {
		cfg.ParentFanout = 5
	}
	if cfg.ChildPerParent <= 0 {
		cfg.ChildPerParent = 3
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, embed: embed, batch: batch, chunker: chunker, cfg: cfg, logger: logger}
}

// Search answers a query against one document, indexing it first when
// needed. Results carry verbatim chunk text with section attribution,
// ordered by descending similarity.
//
// An indexing or store failure aborts the whole call: the per-document
// atomicity of UpsertDocument guarantees no partial index is ever left
// queryable, and empty results stay distinguishable from faults.
func (s *Service) Search(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	collection, ok := domain.CollectionForSource(req.Source)
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", req.Source)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}

	start := time.Now()
	indexed := "hit"

	if req.RawText != "" {
		wasIndexed, warning, err := s.ensureIndexed(ctx, collection, req)
		if err != nil {
			return nil, err
		}
		if !wasIndexed {
			indexed = "miss"
		}
		if warning != "" {
			return &Response{Warning: warning}, nil
		}
	}

	emb, err := s.embed.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	doc, err := s.store.Document(ctx, collection, req.DocumentKey)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		// Nothing indexed under this key and no raw text to index.
		return &Response{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document record: %w", err)
	}

	var results []result.Result
	if doc.ParentCount() > 0 {
		results, err = s.searchHierarchical(ctx, collection, req.DocumentKey, emb.Embedding, topK)
	} else {
		results, err = s.searchFlat(ctx, collection, req.DocumentKey, emb.Embedding, topK)
	}
	if err != nil {
		return nil, err
	}

	metrics.SearchDuration.WithLabelValues(collection, indexed).Observe(time.Since(start).Seconds())
	s.logger.Debug("search completed",
		zap.String("collection", collection),
		zap.String("document_key", req.DocumentKey),
		zap.Int("results", len(results)),
		zap.Bool("hierarchical", doc.ParentCount() > 0))
	return &Response{Results: results}, nil
}

// IndexResult reports the outcome of an explicit indexing call.
type IndexResult struct {
	// AlreadyIndexed is true when the stored source hash matched and no
	// re-chunking happened.
	AlreadyIndexed bool
	Warning        string
}

// Index chunks, embeds and stores a document without running a query.
// Re-indexing an unchanged document is a no-op.
func (s *Service) Index(ctx context.Context, documentKey string, source domain.SourceType, rawText string) (*IndexResult, error) {
	if documentKey == "" {
		return nil, fmt.Errorf("document key is required")
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("document text is required")
	}
	collection, ok := domain.CollectionForSource(source)
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", source)
	}

	req := &Request{DocumentKey: documentKey, Source: source, RawText: rawText}
	wasIndexed, warning, err := s.ensureIndexed(ctx, collection, req)
	if err != nil {
		return nil, err
	}
	return &IndexResult{AlreadyIndexed: wasIndexed, Warning: warning}, nil
}

// ensureIndexed indexes the request's raw text unless the stored source
// hash already matches. Returns whether the document was already indexed
// and a warning for non-indexable content.
func (s *Service) ensureIndexed(ctx context.Context, collection string, req *Request) (wasIndexed bool, warning string, err error) {
	sourceHash := domain.HashText(req.RawText)

	ok, err := s.store.IsIndexed(ctx, collection, req.DocumentKey, sourceHash)
	if err != nil {
		return false, "", fmt.Errorf("check index state: %w", err)
	}
	if ok {
		return true, "", nil
	}

	chunks, err := s.chunker.Chunk(req.DocumentKey, req.Source, req.RawText)
	if err != nil {
		return false, "", fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		if strings.TrimSpace(req.RawText) == "" {
			return false, "", nil
		}
		s.logger.Warn("document produced no chunks",
			zap.String("collection", collection),
			zap.String("document_key", req.DocumentKey))
		return false, WarningNotIndexable, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text()
	}
	batch, err := s.batch.BatchEmbed(ctx, texts)
	if err != nil {
		return false, "", fmt.Errorf("embed chunks: %w", err)
	}
	if len(batch.Embeddings) != len(chunks) {
		return false, "", fmt.Errorf("embedding count %d does not match chunk count %d",
			len(batch.Embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i] = chunks[i].WithEmbedding(batch.Embeddings[i])
	}

	if err := s.store.UpsertDocument(ctx, collection, req.DocumentKey, sourceHash, chunks); err != nil {
		return false, "", fmt.Errorf("upsert document: %w", err)
	}
	return false, "", nil
}

// searchHierarchical runs the two-stage parent/child search.
func (s *Service) searchHierarchical(ctx context.Context, collection, documentKey string, vector []float32, topK int) ([]result.Result, error) {
	stageStart := time.Now()
	parents, err := s.store.QueryParents(ctx, collection, documentKey, vector, s.cfg.ParentFanout)
	if err != nil {
		return nil, fmt.Errorf("stage-1 parent search: %w", err)
	}
	metrics.SearchStageDuration.WithLabelValues(collection, "parents").Observe(time.Since(stageStart).Seconds())

	if len(parents) == 0 {
		return nil, nil
	}

	// Spread the result budget across matched sections, but keep at least
	// the configured minimum per section so a single dominant parent
	// cannot starve the others.
	perParent := topK / len(parents)
	if perParent < s.cfg.ChildPerParent {
		perParent = s.cfg.ChildPerParent
	}
	if perParent < 2 {
		perParent = 2
	}

	stageStart = time.Now()
	candidates := make([]result.Result, 0, len(parents)*perParent)
	for i := range parents {
		parent := &parents[i]
		children, err := s.store.QueryChildren(ctx, collection, documentKey, parent.ID(), vector, perParent)
		if err != nil {
			return nil, fmt.Errorf("stage-2 child search under %s: %w", parent.ID(), err)
		}
		if len(children) == 0 {
			// A very short section has no children; the parent excerpt
			// itself is the best available span.
			candidates = append(candidates, *parent)
			continue
		}
		candidates = append(candidates, children...)
	}
	metrics.SearchStageDuration.WithLabelValues(collection, "children").Observe(time.Since(stageStart).Seconds())

	rerank(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// searchFlat is the single-stage degradation for documents that were
// chunked without a parent tier.
func (s *Service) searchFlat(ctx context.Context, collection, documentKey string, vector []float32, topK int) ([]result.Result, error) {
	stageStart := time.Now()
	results, err := s.store.QueryFlat(ctx, collection, documentKey, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("flat search: %w", err)
	}
	metrics.SearchStageDuration.WithLabelValues(collection, "flat").Observe(time.Since(stageStart).Seconds())
	return results, nil
}

// rerank sorts by descending score. The sort is stable so equal scores
// keep their stage ordering (parent rank, then within-parent rank).
func rerank(results []result.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score() > results[j].Score()
	})
}

func validate(req *Request) error {
	if req.DocumentKey == "" {
		return fmt.Errorf("document key is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query text is required")
	}
	return nil
}
