// Package chi exposes the retrieval pipeline over an HTTP JSON API.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/domain"
	healthuc "github.com/kailas-cloud/filingrag/internal/usecase/health"
	retrievaluc "github.com/kailas-cloud/filingrag/internal/usecase/retrieval"
	synthesisuc "github.com/kailas-cloud/filingrag/internal/usecase/synthesis"
)

// CollectionAdmin covers the collection maintenance endpoints.
type CollectionAdmin interface {
	Stats(ctx context.Context, collection string) (domain.CollectionStats, error)
	Document(ctx context.Context, collection, documentKey string) (domain.IndexedDocument, error)
	DeleteDocument(ctx context.Context, collection, documentKey string) error
	ClearCollection(ctx context.Context, collection string) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the use case services into HTTP handlers.
type Server struct {
	retrieval     *retrievaluc.Service
	synthesis     *synthesisuc.Service
	admin         CollectionAdmin
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retrieval *retrievaluc.Service,
	synthesis *synthesisuc.Service,
	admin CollectionAdmin,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		retrieval: retrieval,
		synthesis: synthesis,
		admin:     admin,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnknownCollection, http.StatusBadRequest, codeUnknownCollection),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, codeEmbeddingUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProviderError),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
	}
	return s
}

// Register mounts all routes on the given router.
func (s *Server) Register(r chi.Router) {
	r.Post("/v1/search", s.Search)
	r.Post("/v1/analyze", s.Analyze)
	r.Post("/v1/index", s.IndexDocument)
	r.Get("/v1/collections/{collection}/stats", s.CollectionStats)
	r.Delete("/v1/collections/{collection}", s.ClearCollection)
	r.Get("/v1/collections/{collection}/documents/{documentKey}", s.GetDocument)
	r.Delete("/v1/collections/{collection}/documents/{documentKey}", s.DeleteDocument)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	source, ok := parseSource(req.Source)
	if !ok {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"source must be \"sec_filing\" or \"news_article\"")
		return
	}
	if req.DocumentKey == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "document_key is required")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	resp, err := s.retrieval.Search(r.Context(), &retrievaluc.Request{
		DocumentKey: req.DocumentKey,
		Source:      source,
		Query:       req.Query,
		TopK:        req.TopK,
		RawText:     req.Text,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponseFromDomain(resp))
}

// Analyze handles POST /v1/analyze.
func (s *Server) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.FilingKey == "" || req.NewsKey == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"filing_key and news_key are required")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	analysis, err := s.synthesis.Analyze(r.Context(), &synthesisuc.Request{
		FilingKey:  req.FilingKey,
		NewsKey:    req.NewsKey,
		Query:      req.Query,
		TopKEach:   req.TopKEach,
		FilingText: req.FilingText,
		NewsText:   req.NewsText,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Filing: outcomeFromDomain(analysis.Filing),
		News:   outcomeFromDomain(analysis.News),
	})
}

// IndexDocument handles POST /v1/index.
func (s *Server) IndexDocument(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	source, ok := parseSource(req.Source)
	if !ok {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"source must be \"sec_filing\" or \"news_article\"")
		return
	}
	if req.DocumentKey == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "document_key is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "text is required")
		return
	}

	res, err := s.retrieval.Index(r.Context(), req.DocumentKey, source, req.Text)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	status := "indexed"
	if res.AlreadyIndexed {
		status = "unchanged"
	}
	writeJSON(w, http.StatusOK, indexResponse{
		DocumentKey: req.DocumentKey,
		Status:      status,
		Warning:     res.Warning,
	})
}

// CollectionStats handles GET /v1/collections/{collection}/stats.
func (s *Server) CollectionStats(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	stats, err := s.admin.Stats(r.Context(), collection)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Collection:      collection,
		CollectionStats: stats,
	})
}

// ClearCollection handles DELETE /v1/collections/{collection}.
func (s *Server) ClearCollection(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	if err := s.admin.ClearCollection(r.Context(), collection); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetDocument handles GET /v1/collections/{collection}/documents/{documentKey}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	documentKey := chi.URLParam(r, "documentKey")

	doc, err := s.admin.Document(r.Context(), collection, documentKey)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, documentResponseFromDomain(&doc))
}

// DeleteDocument handles DELETE /v1/collections/{collection}/documents/{documentKey}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	documentKey := chi.URLParam(r, "documentKey")

	if err := s.admin.DeleteDocument(r.Context(), collection, documentKey); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	// Degraded still serves cached queries, so it stays 200.
	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrUnknownCollection,
		domain.ErrDocumentNotFound,
		domain.ErrEmbeddingUnavailable,
		domain.ErrEmbeddingProviderError,
		domain.ErrStoreUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func parseSource(s string) (domain.SourceType, bool) {
	switch domain.SourceType(s) {
	case domain.SourceSECFiling:
		return domain.SourceSECFiling, true
	case domain.SourceNewsArticle:
		return domain.SourceNewsArticle, true
	default:
		return "", false
	}
}
