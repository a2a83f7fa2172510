package domain

import "errors"

var (
	// ErrEmbeddingUnavailable signals that the embedding provider exhausted its retries.
	// Fatal to the in-flight index or query operation; never degraded to a partial vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrStoreUnavailable signals a vector store I/O failure.
	// Fatal to the in-flight operation; never degraded to empty results.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrChunkingConfig signals an invalid chunker configuration.
	// Raised at construction time only, never at request time.
	ErrChunkingConfig = errors.New("invalid chunking configuration")
	// ErrDocumentNotFound signals a missing indexed document record.
	ErrDocumentNotFound = errors.New("document not indexed")
	// ErrUnknownCollection signals a collection name outside the configured set.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrEmbeddingProviderError signals a single failed embedding provider call.
	// Wrapped by ErrEmbeddingUnavailable once retries are exhausted.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// KeyPrefix namespaces every store key written by this service.
const KeyPrefix = "filingrag:"
