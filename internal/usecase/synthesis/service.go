// Package synthesis runs retrieval against the filings and news
// collections for one query and returns both result sets tagged by source.
// No cross-collection re-ranking or deduplication: official disclosure and
// market commentary stay attributable to their origin.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/usecase/retrieval"
)

// DefaultTopKEach bounds each source's result list when the request does
// not set one.
const DefaultTopKEach = 8

// Searcher is the retrieval engine contract consumed by the synthesizer.
type Searcher interface {
	Search(ctx context.Context, req *retrieval.Request) (*retrieval.Response, error)
}

// Request identifies one document in each collection plus the shared query.
// The raw texts are optional and enable index-on-first-analysis.
type Request struct {
	FilingKey  string
	NewsKey    string
	Query      string
	TopKEach   int
	FilingText string
	NewsText   string
}

// Service is the cross-document synthesizer.
type Service struct {
	engine      Searcher
	logger      *zap.Logger
	defaultTopK int
}

// New creates the synthesizer.
func New(engine Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, logger: logger, defaultTopK: DefaultTopKEach}
}

// WithDefaultTopK overrides the per-source result bound used when a
// request does not set one.
func (s *Service) WithDefaultTopK(k int) *Service {
	if k > 0 {
		s.defaultTopK = k
	}
	return s
}

// Analysis holds both tagged result sets.
type Analysis struct {
	Filing Outcome
	News   Outcome
}

// Outcome is one source's search result with its failure marker.
type Outcome struct {
	Response *retrieval.Response
	Failed   string
}

// Analyze searches both collections independently and concurrently.
// Partial failure is tolerated: a failing source is reported through its
// Failed marker while the other source's results are returned intact.
func (s *Service) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	if req.FilingKey == "" || req.NewsKey == "" {
		return nil, fmt.Errorf("both filing and news document keys are required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query text is required")
	}
	topK := req.TopKEach
	if topK <= 0 {
		topK = s.defaultTopK
	}

	var (
		analysis Analysis
		wg       sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		analysis.Filing = s.searchOne(ctx, &retrieval.Request{
			DocumentKey: req.FilingKey,
			Source:      domain.SourceSECFiling,
			Query:       req.Query,
			TopK:        topK,
			RawText:     req.FilingText,
		})
	}()
	go func() {
		defer wg.Done()
		analysis.News = s.searchOne(ctx, &retrieval.Request{
			DocumentKey: req.NewsKey,
			Source:      domain.SourceNewsArticle,
			Query:       req.Query,
			TopK:        topK,
			RawText:     req.NewsText,
		})
	}()
	wg.Wait()

	return &analysis, nil
}

func (s *Service) searchOne(ctx context.Context, req *retrieval.Request) Outcome {
	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		s.logger.Warn("source search failed",
			zap.String("source", string(req.Source)),
			zap.String("document_key", req.DocumentKey),
			zap.Error(err))
		return Outcome{Failed: err.Error()}
	}
	return Outcome{Response: resp}
}
