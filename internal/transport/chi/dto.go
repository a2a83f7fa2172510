package chi

import (
	"time"

	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
	"github.com/kailas-cloud/filingrag/internal/domain/search/result"
	retrievaluc "github.com/kailas-cloud/filingrag/internal/usecase/retrieval"
	synthesisuc "github.com/kailas-cloud/filingrag/internal/usecase/synthesis"
)

// Error codes returned in errorResponse.Code.
const (
	codeBadRequest             = "bad_request"
	codeValidationFailed       = "validation_failed"
	codeUnknownCollection      = "unknown_collection"
	codeDocumentNotFound       = "document_not_found"
	codeEmbeddingUnavailable   = "embedding_unavailable"
	codeEmbeddingProviderError = "embedding_provider_error"
	codeStoreUnavailable       = "store_unavailable"
	codeInternalError          = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type searchRequest struct {
	DocumentKey string `json:"document_key"`
	Source      string `json:"source"`
	Query       string `json:"query"`
	TopK        int    `json:"top_k,omitempty"`
	Text        string `json:"text,omitempty"`
}

type searchResponse struct {
	Results []resultItem `json:"results"`
	Total   int          `json:"total"`
	Warning string       `json:"warning,omitempty"`
}

type resultItem struct {
	ID           string  `json:"id"`
	DocumentKey  string  `json:"document_key"`
	Text         string  `json:"text"`
	SectionLabel string  `json:"section_label,omitempty"`
	Tier         string  `json:"tier"`
	ParentID     string  `json:"parent_id,omitempty"`
	Score        float64 `json:"score"`
}

type analyzeRequest struct {
	FilingKey  string `json:"filing_key"`
	NewsKey    string `json:"news_key"`
	Query      string `json:"query"`
	TopKEach   int    `json:"top_k_each,omitempty"`
	FilingText string `json:"filing_text,omitempty"`
	NewsText   string `json:"news_text,omitempty"`
}

type analyzeResponse struct {
	Filing sourceOutcome `json:"filing"`
	News   sourceOutcome `json:"news"`
}

// sourceOutcome carries one source's results. Failed is set instead of
// results when that source's search errored; the other source is unaffected.
type sourceOutcome struct {
	Results []resultItem `json:"results"`
	Total   int          `json:"total"`
	Warning string       `json:"warning,omitempty"`
	Failed  string       `json:"failed,omitempty"`
}

type indexRequest struct {
	DocumentKey string `json:"document_key"`
	Source      string `json:"source"`
	Text        string `json:"text"`
}

type indexResponse struct {
	DocumentKey string `json:"document_key"`
	Status      string `json:"status"`
	Warning     string `json:"warning,omitempty"`
}

type statsResponse struct {
	Collection string `json:"collection"`
	domain.CollectionStats
}

type documentResponse struct {
	DocumentKey  string    `json:"document_key"`
	ChunkCount   int       `json:"chunk_count"`
	ParentCount  int       `json:"parent_count"`
	Hierarchical bool      `json:"hierarchical"`
	SourceHash   string    `json:"source_hash"`
	IndexedAt    time.Time `json:"indexed_at"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func searchResponseFromDomain(resp *retrievaluc.Response) searchResponse {
	return searchResponse{
		Results: resultItems(resp.Results),
		Total:   len(resp.Results),
		Warning: resp.Warning,
	}
}

func outcomeFromDomain(o synthesisuc.Outcome) sourceOutcome {
	if o.Failed != "" {
		return sourceOutcome{Results: []resultItem{}, Failed: o.Failed}
	}
	return sourceOutcome{
		Results: resultItems(o.Response.Results),
		Total:   len(o.Response.Results),
		Warning: o.Response.Warning,
	}
}

func resultItems(results []result.Result) []resultItem {
	items := make([]resultItem, len(results))
	for i := range results {
		r := &results[i]
		items[i] = resultItem{
			ID:           r.ID(),
			DocumentKey:  r.DocumentKey(),
			Text:         r.Text(),
			SectionLabel: r.SectionLabel(),
			Tier:         tierLabel(r.Tier()),
			ParentID:     r.ParentID(),
			Score:        r.Score(),
		}
	}
	return items
}

func tierLabel(t chunk.Tier) string {
	if t == chunk.TierFlat {
		return "flat"
	}
	return string(t)
}

func documentResponseFromDomain(doc *domain.IndexedDocument) documentResponse {
	return documentResponse{
		DocumentKey:  doc.DocumentKey(),
		ChunkCount:   doc.ChunkCount(),
		ParentCount:  doc.ParentCount(),
		Hierarchical: doc.ParentCount() > 0,
		SourceHash:   doc.SourceHash(),
		IndexedAt:    doc.IndexedAt(),
	}
}
