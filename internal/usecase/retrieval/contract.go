package retrieval

import (
	"context"

	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
	"github.com/kailas-cloud/filingrag/internal/domain/search/result"
)

// ChunkStore defines the storage contract for the retrieval engine. The
// engine reads through the query methods and writes only via
// UpsertDocument; it never manipulates chunk records directly.
type ChunkStore interface {
	IsIndexed(ctx context.Context, collection, documentKey, sourceHash string) (bool, error)
	UpsertDocument(ctx context.Context, collection, documentKey, sourceHash string, chunks []chunk.Chunk) error
	Document(ctx context.Context, collection, documentKey string) (domain.IndexedDocument, error)

	QueryParents(ctx context.Context, collection, documentKey string, vector []float32, topK int) ([]result.Result, error)
	QueryChildren(ctx context.Context, collection, documentKey, parentID string, vector []float32, topK int) ([]result.Result, error)
	QueryFlat(ctx context.Context, collection, documentKey string, vector []float32, topK int) ([]result.Result, error)
}

// Embedder vectorizes query text. Wired to the cached decorator so
// repeated queries skip the provider.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// BatchEmbedder vectorizes chunk texts at index time.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// Chunker splits raw documents into chunks.
type Chunker interface {
	Chunk(documentKey string, source domain.SourceType, text string) ([]chunk.Chunk, error)
}
