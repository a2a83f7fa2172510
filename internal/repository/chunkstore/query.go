package chunkstore

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/filingrag/internal/db"
	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
	"github.com/kailas-cloud/filingrag/internal/domain/search/filter"
	"github.com/kailas-cloud/filingrag/internal/domain/search/result"
)

// queryReturnFields lists the hash fields hydrated into results. The
// embedding itself is never returned.
var queryReturnFields = []string{
	fieldID, fieldDocumentKey, fieldText, fieldTier,
	fieldParentID, fieldSectionLabel, "__vector_score",
}

// Query runs a cosine nearest-neighbor search over a collection, restricted
// by equality filters, and returns up to topK results in descending score
// order with insertion-order tie-break. An empty collection yields an empty
// sequence, not an error.
//
// When the filters pin a document_key, the query holds that document's read
// lock so a concurrent re-index cannot expose a partial chunk set.
func (m *Manager) Query(ctx context.Context, collection string, vector []float32, filters filter.Expression, topK int) ([]result.Result, error) {
	if !domain.KnownCollection(collection) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", topK)
	}

	if documentKey, ok := filteredDocumentKey(filters); ok {
		lock := m.locks.get(collection, documentKey)
		lock.RLock()
		defer lock.RUnlock()
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	res, err := m.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    m.indexName(collection),
		Filters:      filters,
		Vector:       vector,
		K:            topK,
		ReturnFields: queryReturnFields,
	})
	if err != nil {
		return nil, m.storeErr("knn search", err)
	}

	out := make([]result.Result, 0, len(res.Entries))
	for _, entry := range res.Entries {
		fields := entry.Fields
		out = append(out, result.New(
			fields[fieldID],
			fields[fieldDocumentKey],
			fields[fieldText],
			fields[fieldSectionLabel],
			tierFromField(fields[fieldTier]),
			fields[fieldParentID],
			entry.Score,
		))
	}
	return out, nil
}

// QueryParents searches PARENT chunks of one document.
func (m *Manager) QueryParents(ctx context.Context, collection, documentKey string, vector []float32, topK int) ([]result.Result, error) {
	return m.Query(ctx, collection, vector, ParentFilter(documentKey), topK)
}

// QueryChildren searches CHILD chunks under one parent.
func (m *Manager) QueryChildren(ctx context.Context, collection, documentKey, parentID string, vector []float32, topK int) ([]result.Result, error) {
	return m.Query(ctx, collection, vector, ChildFilter(documentKey, parentID), topK)
}

// QueryFlat searches flat chunks of one document.
func (m *Manager) QueryFlat(ctx context.Context, collection, documentKey string, vector []float32, topK int) ([]result.Result, error) {
	return m.Query(ctx, collection, vector, FlatFilter(documentKey), topK)
}

// Filter expression builders for the tiers of one document.

// ParentFilter matches PARENT chunks of a document.
func ParentFilter(documentKey string) filter.Expression {
	return filter.MustAnd(
		filter.MustMatch(fieldDocumentKey, documentKey),
		filter.MustMatch(fieldTier, tierToField(chunk.TierParent)),
	)
}

// ChildFilter matches CHILD chunks under one parent of a document.
func ChildFilter(documentKey, parentID string) filter.Expression {
	return filter.MustAnd(
		filter.MustMatch(fieldDocumentKey, documentKey),
		filter.MustMatch(fieldTier, tierToField(chunk.TierChild)),
		filter.MustMatch(fieldParentID, parentID),
	)
}

// FlatFilter matches flat chunks of a document.
func FlatFilter(documentKey string) filter.Expression {
	return filter.MustAnd(
		filter.MustMatch(fieldDocumentKey, documentKey),
		filter.MustMatch(fieldTier, tierFlatValue),
	)
}

func filteredDocumentKey(filters filter.Expression) (string, bool) {
	for _, cond := range filters.Conditions() {
		if cond.Key() == fieldDocumentKey {
			return cond.Value(), true
		}
	}
	return "", false
}
