package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/chunker"
	"github.com/kailas-cloud/filingrag/internal/db/memory"
	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/metrics"
	"github.com/kailas-cloud/filingrag/internal/repository/chunkstore"
	healthuc "github.com/kailas-cloud/filingrag/internal/usecase/health"
	retrievaluc "github.com/kailas-cloud/filingrag/internal/usecase/retrieval"
	synthesisuc "github.com/kailas-cloud/filingrag/internal/usecase/synthesis"
)

const testDim = 5

func TestMain(m *testing.M) {
	metrics.RegisterRetrievalMetrics()
	os.Exit(m.Run())
}

// --- Mocks ---

// letterEmbedder derives deterministic vectors from vowel counts. Good
// enough for routing tests; ranking quality is covered elsewhere.
type letterEmbedder struct {
	err error
}

func (e *letterEmbedder) vec(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, testDim)
	for i, letter := range []string{"a", "e", "i", "o"} {
		v[i] = float32(strings.Count(lower, letter))
	}
	v[testDim-1] = 1
	return v
}

func (e *letterEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	return domain.EmbeddingResult{Embedding: e.vec(text)}, nil
}

func (e *letterEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if e.err != nil {
		return domain.BatchEmbeddingResult{}, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *letterEmbedder) {
	t.Helper()

	store := memory.NewStore()
	manager := chunkstore.New(store, 0, zap.NewNop())
	for _, col := range []string{domain.CollectionFilings, domain.CollectionNews} {
		if err := manager.EnsureCollection(context.Background(), col, testDim); err != nil {
			t.Fatalf("EnsureCollection(%s): %v", col, err)
		}
	}

	ch, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}

	emb := &letterEmbedder{}
	retrievalSvc := retrievaluc.New(manager, emb, emb, ch, retrievaluc.Config{}, zap.NewNop())
	synthesisSvc := synthesisuc.New(retrievalSvc, zap.NewNop())
	healthSvc := healthuc.New(store, nil)

	srv := NewServer(retrievalSvc, synthesisSvc, manager, healthSvc, zap.NewNop())
	r := chi.NewRouter()
	srv.Register(r)
	return r, emb
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeAs[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func testFilingText() string {
	var b strings.Builder
	b.WriteString("ITEM 1. BUSINESS\n\n")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "operations%d revenue segment ", i)
	}
	b.WriteString("\n\nITEM 1A. RISK FACTORS\n\n")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "risk%d exposure uncertainty ", i)
	}
	return b.String()
}

func testNewsText() string {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "shares%d climbed after earnings ", i)
	}
	return b.String()
}

func TestSearchEndpoint_NewsFlat(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := doJSON(t, h, "POST", "/v1/search", searchRequest{
		DocumentKey: "REUTERS_2024_001",
		Source:      "news_article",
		Query:       "earnings reaction",
		Text:        testNewsText(),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	resp := decodeAs[searchResponse](t, rr)
	if resp.Total == 0 || len(resp.Results) != resp.Total {
		t.Fatalf("total = %d, results = %d", resp.Total, len(resp.Results))
	}
	for _, item := range resp.Results {
		if item.DocumentKey != "REUTERS_2024_001" {
			t.Errorf("document_key = %q", item.DocumentKey)
		}
		if item.Tier != "flat" {
			t.Errorf("tier = %q, want flat", item.Tier)
		}
	}
}

func TestSearchEndpoint_FilingHierarchy(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := doJSON(t, h, "POST", "/v1/search", searchRequest{
		DocumentKey: "ACME_10-K_2024",
		Source:      "sec_filing",
		Query:       "risk exposure",
		Text:        testFilingText(),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	resp := decodeAs[searchResponse](t, rr)
	if resp.Total == 0 {
		t.Fatal("no results for indexed filing")
	}
	for _, item := range resp.Results {
		if item.SectionLabel == "" {
			t.Errorf("result %s has no section label", item.ID)
		}
	}
}

func TestSearchEndpoint_Validation(t *testing.T) {
	h, _ := newTestRouter(t)

	cases := []struct {
		name string
		req  searchRequest
		code string
	}{
		{"unknown source", searchRequest{DocumentKey: "k", Source: "podcast", Query: "q"}, codeValidationFailed},
		{"missing document key", searchRequest{Source: "sec_filing", Query: "q"}, codeValidationFailed},
		{"blank query", searchRequest{DocumentKey: "k", Source: "sec_filing", Query: "  "}, codeValidationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, h, "POST", "/v1/search", tc.req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			errResp := decodeAs[errorResponse](t, rr)
			if errResp.Code != tc.code {
				t.Errorf("code = %q, want %q", errResp.Code, tc.code)
			}
		})
	}
}

func TestSearchEndpoint_MalformedBody(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/v1/search", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if errResp := decodeAs[errorResponse](t, rr); errResp.Code != codeBadRequest {
		t.Errorf("code = %q, want %q", errResp.Code, codeBadRequest)
	}
}

func TestSearchEndpoint_EmbeddingDown_502(t *testing.T) {
	h, emb := newTestRouter(t)
	emb.err = fmt.Errorf("connect: %w", domain.ErrEmbeddingUnavailable)

	rr := doJSON(t, h, "POST", "/v1/search", searchRequest{
		DocumentKey: "ACME_10-K_2024",
		Source:      "sec_filing",
		Query:       "revenue",
		Text:        testFilingText(),
	})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if errResp := decodeAs[errorResponse](t, rr); errResp.Code != codeEmbeddingUnavailable {
		t.Errorf("code = %q, want %q", errResp.Code, codeEmbeddingUnavailable)
	}
}

func TestIndexEndpoint_Lifecycle(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := doJSON(t, h, "POST", "/v1/index", indexRequest{
		DocumentKey: "ACME_10-K_2024",
		Source:      "sec_filing",
		Text:        testFilingText(),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("index status = %d, body %s", rr.Code, rr.Body.String())
	}
	if resp := decodeAs[indexResponse](t, rr); resp.Status != "indexed" {
		t.Errorf("status = %q, want indexed", resp.Status)
	}

	rr = doJSON(t, h, "POST", "/v1/index", indexRequest{
		DocumentKey: "ACME_10-K_2024",
		Source:      "sec_filing",
		Text:        testFilingText(),
	})
	if resp := decodeAs[indexResponse](t, rr); resp.Status != "unchanged" {
		t.Errorf("re-index status = %q, want unchanged", resp.Status)
	}

	rr = doJSON(t, h, "GET", "/v1/collections/sec_filings/documents/ACME_10-K_2024", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get document status = %d", rr.Code)
	}
	doc := decodeAs[documentResponse](t, rr)
	if !doc.Hierarchical || doc.ParentCount != 2 {
		t.Errorf("parent_count = %d, hierarchical = %v", doc.ParentCount, doc.Hierarchical)
	}
	if doc.ChunkCount <= doc.ParentCount {
		t.Errorf("chunk_count = %d, want more than %d parents", doc.ChunkCount, doc.ParentCount)
	}
}

func TestGetDocument_NotIndexed_404(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := doJSON(t, h, "GET", "/v1/collections/sec_filings/documents/GHOST_10-K", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if errResp := decodeAs[errorResponse](t, rr); errResp.Code != codeDocumentNotFound {
		t.Errorf("code = %q, want %q", errResp.Code, codeDocumentNotFound)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	doJSON(t, h, "POST", "/v1/index", indexRequest{
		DocumentKey: "ACME_10-K_2024",
		Source:      "sec_filing",
		Text:        testFilingText(),
	})

	rr := doJSON(t, h, "GET", "/v1/collections/sec_filings/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	stats := decodeAs[statsResponse](t, rr)
	if stats.Collection != "sec_filings" {
		t.Errorf("collection = %q", stats.Collection)
	}
	if stats.DocumentCount != 1 || stats.ChunkCount == 0 {
		t.Errorf("documents = %d, chunks = %d", stats.DocumentCount, stats.ChunkCount)
	}

	rr = doJSON(t, h, "GET", "/v1/collections/bonds/stats", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown collection status = %d, want 400", rr.Code)
	}
	if errResp := decodeAs[errorResponse](t, rr); errResp.Code != codeUnknownCollection {
		t.Errorf("code = %q, want %q", errResp.Code, codeUnknownCollection)
	}
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	doJSON(t, h, "POST", "/v1/index", indexRequest{
		DocumentKey: "ACME_10-K_2024",
		Source:      "sec_filing",
		Text:        testFilingText(),
	})

	rr := doJSON(t, h, "DELETE", "/v1/collections/sec_filings/documents/ACME_10-K_2024", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rr.Code)
	}

	rr = doJSON(t, h, "GET", "/v1/collections/sec_filings/documents/ACME_10-K_2024", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rr.Code)
	}
}

func TestClearCollectionEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	doJSON(t, h, "POST", "/v1/index", indexRequest{
		DocumentKey: "ACME_10-K_2024",
		Source:      "sec_filing",
		Text:        testFilingText(),
	})

	rr := doJSON(t, h, "DELETE", "/v1/collections/sec_filings", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", rr.Code)
	}

	stats := decodeAs[statsResponse](t, doJSON(t, h, "GET", "/v1/collections/sec_filings/stats", nil))
	if stats.DocumentCount != 0 || stats.ChunkCount != 0 {
		t.Errorf("after clear: documents = %d, chunks = %d", stats.DocumentCount, stats.ChunkCount)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := doJSON(t, h, "POST", "/v1/analyze", analyzeRequest{
		FilingKey:  "ACME_10-K_2024",
		NewsKey:    "REUTERS_2024_001",
		Query:      "earnings and risk",
		FilingText: testFilingText(),
		NewsText:   testNewsText(),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	resp := decodeAs[analyzeResponse](t, rr)
	if resp.Filing.Failed != "" || resp.News.Failed != "" {
		t.Fatalf("unexpected failure markers: filing %q, news %q", resp.Filing.Failed, resp.News.Failed)
	}
	if resp.Filing.Total == 0 || resp.News.Total == 0 {
		t.Fatalf("filing results = %d, news results = %d", resp.Filing.Total, resp.News.Total)
	}
	for _, item := range resp.Filing.Results {
		if item.DocumentKey != "ACME_10-K_2024" {
			t.Errorf("filing result from %q", item.DocumentKey)
		}
	}
	for _, item := range resp.News.Results {
		if item.DocumentKey != "REUTERS_2024_001" {
			t.Errorf("news result from %q", item.DocumentKey)
		}
	}
}

func TestAnalyzeEndpoint_Validation(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := doJSON(t, h, "POST", "/v1/analyze", analyzeRequest{NewsKey: "n", Query: "q"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing filing key: status = %d, want 400", rr.Code)
	}
	rr = doJSON(t, h, "POST", "/v1/analyze", analyzeRequest{FilingKey: "f", NewsKey: "n", Query: " "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank query: status = %d, want 400", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := doJSON(t, h, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeAs[healthResponse](t, rr)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("store check = %q, want ok", resp.Checks["store"])
	}
}
