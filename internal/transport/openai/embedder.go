// Package openai implements the embedding provider adapter over any
// OpenAI-compatible embeddings API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/metrics"
)

// Embedder calls an OpenAI-compatible embeddings API with bounded retries.
// A failed call is retried with linear backoff; once retries are exhausted
// the operation fails with domain.ErrEmbeddingUnavailable. No partial or
// degraded vector is ever produced.
type Embedder struct {
	client        *openai.Client
	model         openai.EmbeddingModel
	dimensions    int
	timeout       time.Duration
	maxRetries    int
	retryBackoff  time.Duration
	maxInputWords int
	logger        *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Dimensions    int
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxInputWords int
	Logger        *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         openai.EmbeddingModel(cfg.Model),
		dimensions:    cfg.Dimensions,
		timeout:       cfg.Timeout,
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  cfg.RetryBackoff,
		maxInputWords: cfg.MaxInputWords,
		logger:        logger,
	}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	resp, err := e.createWithRetry(ctx, []string{e.truncate(text)})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder. The result preserves input
// order and length.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: [][]float32{}}, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = e.truncate(t)
	}

	resp, err := e.createWithRetry(ctx, inputs)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(resp.Data) != len(texts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"embedding batch size mismatch: sent %d, got %d: %w",
			len(texts), len(resp.Data), domain.ErrEmbeddingProviderError)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf(
				"embedding batch index %d out of range: %w", d.Index, domain.ErrEmbeddingProviderError)
		}
		embeddings[d.Index] = d.Embedding
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (e *Embedder) createWithRetry(ctx context.Context, inputs []string) (openai.EmbeddingResponse, error) {
	req := openai.EmbeddingRequest{
		Input:          inputs,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	model := string(e.model)
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.EmbeddingRetriesTotal.WithLabelValues(model).Inc()
			if err := sleepCtx(ctx, e.retryBackoff*time.Duration(attempt)); err != nil {
				return openai.EmbeddingResponse{}, fmt.Errorf(
					"embedding retry aborted: %s: %w", lastErr, domain.ErrEmbeddingUnavailable)
			}
		}

		resp, err := e.create(ctx, req)
		if err == nil {
			if len(resp.Data) == 0 {
				metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
				return openai.EmbeddingResponse{}, fmt.Errorf(
					"empty embedding response: %w", domain.ErrEmbeddingProviderError)
			}
			if resp.Usage.TotalTokens > 0 {
				metrics.EmbeddingTokensTotal.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
				metrics.EmbeddingTokensTotal.WithLabelValues(model, "total").Add(float64(resp.Usage.TotalTokens))
			}
			return resp, nil
		}

		lastErr = parseAPIError(err)
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()

		if !retryable(err) {
			return openai.EmbeddingResponse{}, lastErr
		}
		e.logger.Warn("embedding request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", e.maxRetries),
			zap.Error(err))
	}

	return openai.EmbeddingResponse{}, fmt.Errorf(
		"embedding retries exhausted after %d attempts: %s: %w",
		e.maxRetries+1, lastErr, domain.ErrEmbeddingUnavailable)
}

func (e *Embedder) create(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return openai.EmbeddingResponse{}, err
	}

	model := string(e.model)
	metrics.EmbeddingRequestsTotal.WithLabelValues(model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	return resp, nil
}

// truncate caps input at maxInputWords. Oversized input should not occur
// when chunk sizes are respected, but a hard API error here would make the
// whole indexing run unrecoverable.
func (e *Embedder) truncate(text string) string {
	if e.maxInputWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= e.maxInputWords {
		return text
	}
	e.logger.Warn("truncating oversized embedding input",
		zap.Int("words", len(words)),
		zap.Int("max_words", e.maxInputWords))
	return strings.Join(words[:e.maxInputWords], " ")
}

// retryable reports whether an API error is transient. Rate limits and
// server-side failures are retried; client errors and cancellations are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}

	// Network-level failures and per-attempt timeouts.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEmbeddingProviderError.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingProviderError

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail, wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %v: %w", err, wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
