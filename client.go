// Package filingrag embeds the retrieval pipeline in-process: chunking,
// embedding, vector storage and two-stage hierarchical search over SEC
// filings and news articles, without running the HTTP server.
package filingrag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/filingrag/internal/chunker"
	"github.com/kailas-cloud/filingrag/internal/db"
	dbMemory "github.com/kailas-cloud/filingrag/internal/db/memory"
	dbRedis "github.com/kailas-cloud/filingrag/internal/db/redis"
	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/metrics"
	"github.com/kailas-cloud/filingrag/internal/repository/chunkstore"
	"github.com/kailas-cloud/filingrag/internal/repository/embcache"
	openaiEmb "github.com/kailas-cloud/filingrag/internal/transport/openai"
	retrievaluc "github.com/kailas-cloud/filingrag/internal/usecase/retrieval"
	synthesisuc "github.com/kailas-cloud/filingrag/internal/usecase/synthesis"
)

const defaultReadinessTimeout = 10 * time.Second

// Source identifies where a document originated.
type Source string

// Document sources. Each maps to its own collection.
const (
	SourceSECFiling   Source = Source(domain.SourceSECFiling)
	SourceNewsArticle Source = Source(domain.SourceNewsArticle)
)

// Embedding is one vectorization result.
type Embedding struct {
	Vector      []float32
	TotalTokens int
}

// Embedder is the pluggable text vectorization contract.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	BatchEmbed(ctx context.Context, texts []string) ([]Embedding, error)
}

// Client is the filingrag SDK entry point.
type Client struct {
	store     db.Store
	manager   *chunkstore.Manager
	retrieval *retrievaluc.Service
	synthesis *synthesisuc.Service
}

// New creates a Client and prepares both collections.
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("filingrag: database not ready: %w", err)
	}

	c, err := wireClient(ctx, store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("filingrag: create redis store: %w", err)
		}
		return s, nil
	case "memory":
		return dbMemory.NewStore(), nil
	default:
		return nil, fmt.Errorf("filingrag: unknown driver %q", cfg.driver)
	}
}

func wireClient(ctx context.Context, store db.Store, cfg *clientConfig) (*Client, error) {
	manager := chunkstore.New(store, 0, cfg.logger)
	for _, collection := range []string{domain.CollectionFilings, domain.CollectionNews} {
		if err := manager.EnsureCollection(ctx, collection, cfg.vectorDimensions); err != nil {
			return nil, fmt.Errorf("filingrag: ensure collection %s: %w", collection, err)
		}
	}

	chunkerSvc, err := chunker.New(chunker.Config{
		ParentSize:      cfg.parentSize,
		ChildSize:       cfg.childSize,
		Overlap:         cfg.overlap,
		NewsMinSize:     cfg.newsMinSize,
		NewsMaxSize:     cfg.newsMaxSize,
		MinSectionChars: cfg.minSectionChars,
	})
	if err != nil {
		return nil, fmt.Errorf("filingrag: %w", err)
	}

	var embedder interface {
		domain.Embedder
		domain.BatchEmbedder
	}
	switch {
	case cfg.openAIKey != "":
		embedder = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:        cfg.openAIKey,
			BaseURL:       cfg.openAIBaseURL,
			Model:         cfg.openAIModel,
			Dimensions:    cfg.vectorDimensions,
			Timeout:       cfg.embedTimeout,
			MaxRetries:    cfg.embedRetries,
			RetryBackoff:  cfg.embedBackoff,
			MaxInputWords: cfg.maxInputWords,
			Logger:        cfg.logger,
		})
	case cfg.embedder != nil:
		embedder = &embedderAdapter{inner: cfg.embedder}
	default:
		embedder = noopEmbedder{}
	}
	cached := embcache.New(embedder, cfg.cacheSize, metrics.EmbeddingCacheTotal)

	retrievalSvc := retrievaluc.New(manager, cached, embedder, chunkerSvc, retrievaluc.Config{
		ParentFanout:   cfg.parentFanout,
		ChildPerParent: cfg.childPerParent,
		DefaultTopK:    cfg.defaultTopK,
	}, cfg.logger)
	synthesisSvc := synthesisuc.New(retrievalSvc, cfg.logger)

	return &Client{
		store:     store,
		manager:   manager,
		retrieval: retrievalSvc,
		synthesis: synthesisSvc,
	}, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// SearchRequest is one retrieval call. Text is optional: when set, the
// document is indexed first if absent or changed.
type SearchRequest struct {
	DocumentKey string
	Source      Source
	Query       string
	TopK        int
	Text        string
}

// Result is one retrieved chunk.
type Result struct {
	ID           string
	DocumentKey  string
	Text         string
	SectionLabel string
	Tier         string
	ParentID     string
	Score        float64
}

// SearchResponse carries ranked results. Warning is set instead of an
// error for non-fatal data-quality conditions.
type SearchResponse struct {
	Results []Result
	Warning string
}

// Search answers a query against one document.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	resp, err := c.retrieval.Search(ctx, &retrievaluc.Request{
		DocumentKey: req.DocumentKey,
		Source:      domain.SourceType(req.Source),
		Query:       req.Query,
		TopK:        req.TopK,
		RawText:     req.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return searchResponseFromInternal(resp), nil
}

// Index chunks, embeds and stores a document without running a query.
// Returns true when the document was already indexed with identical content.
func (c *Client) Index(ctx context.Context, documentKey string, source Source, text string) (bool, error) {
	res, err := c.retrieval.Index(ctx, documentKey, domain.SourceType(source), text)
	if err != nil {
		return false, fmt.Errorf("index: %w", err)
	}
	if res.Warning != "" {
		return false, fmt.Errorf("index: %s", res.Warning)
	}
	return res.AlreadyIndexed, nil
}

// AnalyzeRequest pairs one filing and one news article with a shared query.
type AnalyzeRequest struct {
	FilingKey  string
	NewsKey    string
	Query      string
	TopKEach   int
	FilingText string
	NewsText   string
}

// SourceResults is one source's search outcome within an analysis.
// Failed is non-empty when that source's search errored.
type SourceResults struct {
	Results []Result
	Warning string
	Failed  string
}

// AnalyzeReport holds both tagged result sets.
type AnalyzeReport struct {
	Filing SourceResults
	News   SourceResults
}

// Analyze searches both collections independently and concurrently.
// A failing source is reported through its Failed marker while the other
// source's results are returned intact.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeReport, error) {
	analysis, err := c.synthesis.Analyze(ctx, &synthesisuc.Request{
		FilingKey:  req.FilingKey,
		NewsKey:    req.NewsKey,
		Query:      req.Query,
		TopKEach:   req.TopKEach,
		FilingText: req.FilingText,
		NewsText:   req.NewsText,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return &AnalyzeReport{
		Filing: sourceResultsFromInternal(analysis.Filing),
		News:   sourceResultsFromInternal(analysis.News),
	}, nil
}

// DocumentInfo describes one indexed document.
type DocumentInfo struct {
	DocumentKey  string
	ChunkCount   int
	ParentCount  int
	Hierarchical bool
	IndexedAt    time.Time
}

// Document returns the index record for a document, or
// an error wrapping ErrDocumentNotFound.
func (c *Client) Document(ctx context.Context, documentKey string, source Source) (DocumentInfo, error) {
	collection, err := collectionFor(source)
	if err != nil {
		return DocumentInfo{}, err
	}
	doc, err := c.manager.Document(ctx, collection, documentKey)
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("document: %w", err)
	}
	return DocumentInfo{
		DocumentKey:  doc.DocumentKey(),
		ChunkCount:   doc.ChunkCount(),
		ParentCount:  doc.ParentCount(),
		Hierarchical: doc.ParentCount() > 0,
		IndexedAt:    doc.IndexedAt(),
	}, nil
}

// DeleteDocument removes a document and all its chunks. Deleting an
// absent document is a no-op.
func (c *Client) DeleteDocument(ctx context.Context, documentKey string, source Source) error {
	collection, err := collectionFor(source)
	if err != nil {
		return err
	}
	if err := c.manager.DeleteDocument(ctx, collection, documentKey); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Stats summarizes one source's collection.
type Stats struct {
	DocumentCount int
	ChunkCount    int
}

// Stats reports document and chunk counts for a source's collection.
func (c *Client) Stats(ctx context.Context, source Source) (Stats, error) {
	collection, err := collectionFor(source)
	if err != nil {
		return Stats{}, err
	}
	st, err := c.manager.Stats(ctx, collection)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return Stats{DocumentCount: st.DocumentCount, ChunkCount: st.ChunkCount}, nil
}

// Clear removes every document and chunk from a source's collection.
func (c *Client) Clear(ctx context.Context, source Source) error {
	collection, err := collectionFor(source)
	if err != nil {
		return err
	}
	if err := c.manager.ClearCollection(ctx, collection); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func collectionFor(source Source) (string, error) {
	collection, ok := domain.CollectionForSource(domain.SourceType(source))
	if !ok {
		return "", fmt.Errorf("filingrag: unknown source %q", source)
	}
	return collection, nil
}

func searchResponseFromInternal(resp *retrievaluc.Response) *SearchResponse {
	out := &SearchResponse{
		Results: make([]Result, len(resp.Results)),
		Warning: resp.Warning,
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		tier := string(r.Tier())
		if tier == "" {
			tier = "flat"
		}
		out.Results[i] = Result{
			ID:           r.ID(),
			DocumentKey:  r.DocumentKey(),
			Text:         r.Text(),
			SectionLabel: r.SectionLabel(),
			Tier:         tier,
			ParentID:     r.ParentID(),
			Score:        r.Score(),
		}
	}
	return out
}

func sourceResultsFromInternal(o synthesisuc.Outcome) SourceResults {
	if o.Failed != "" {
		return SourceResults{Failed: o.Failed}
	}
	resp := searchResponseFromInternal(o.Response)
	return SourceResults{Results: resp.Results, Warning: resp.Warning}
}

// embedderAdapter wraps the public Embedder to satisfy the internal contracts.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{Embedding: r.Vector, TotalTokens: r.TotalTokens}, nil
}

func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	rs, err := a.inner.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(rs))}
	for i, r := range rs {
		out.Embeddings[i] = r.Vector
		out.TotalTokens += r.TotalTokens
	}
	return out, nil
}

// noopEmbedder returns an error on every call (used when no embedder configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, errors.New(
		"filingrag: embedder not configured (use WithEmbedder or WithOpenAI)",
	)
}

func (noopEmbedder) BatchEmbed(_ context.Context, _ []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchEmbeddingResult{}, errors.New(
		"filingrag: embedder not configured (use WithEmbedder or WithOpenAI)",
	)
}
