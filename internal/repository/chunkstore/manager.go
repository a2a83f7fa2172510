// Package chunkstore owns all chunk and indexed-document records. Other
// components read through Query and write through UpsertDocument; nothing
// else touches the persisted layout.
package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/db"
	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
	"github.com/kailas-cloud/filingrag/internal/metrics"
)

// store is the consumer interface for the chunk store (ISP).
type store interface {
	db.HashStore
	db.KVStore
	db.IndexManager
	db.VectorSearcher
}

// Manager persists chunks and IndexedDocument records for the two
// collections and answers nearest-neighbor queries over them.
type Manager struct {
	store     store
	locks     *docLocks
	opTimeout time.Duration
	logger    *zap.Logger
}

// New creates a Manager. opTimeout bounds every store round trip; zero
// disables the bound.
func New(s store, opTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     s,
		locks:     newDocLocks(),
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// EnsureCollection creates the collection's vector index if it does not
// exist yet. Safe to call on every startup.
func (m *Manager) EnsureCollection(ctx context.Context, collection string, dim int) error {
	if !domain.KnownCollection(collection) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	def := &db.IndexDefinition{
		Name:      m.indexName(collection),
		Prefixes:  []string{m.chunkPrefix(collection)},
		TagFields: []string{fieldDocumentKey, fieldTier, fieldParentID},
		Vector: db.VectorField{
			Name:        fieldEmbedding,
			Dim:         dim,
			Distance:    db.DistanceCosine,
			Algorithm:   db.VectorHNSW,
			M:           16,
			EFConstruct: 200,
		},
	}

	err := m.store.CreateIndex(ctx, def)
	switch {
	case err == nil:
		m.logger.Info("created vector index",
			zap.String("collection", collection), zap.Int("dim", dim))
		return nil
	case errors.Is(err, db.ErrIndexExists):
		return nil
	default:
		return m.storeErr("create index", err)
	}
}

// UpsertDocument replaces all chunks of a document and refreshes its
// bookkeeping record with the given source hash. Delete-then-insert runs
// inside the per-document write lock, so concurrent readers see the old or
// new set atomically.
func (m *Manager) UpsertDocument(ctx context.Context, collection, documentKey, sourceHash string, chunks []chunk.Chunk) error {
	if !domain.KnownCollection(collection) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}
	if documentKey == "" {
		return fmt.Errorf("document key is required")
	}
	if err := validateChunks(documentKey, chunks); err != nil {
		return err
	}

	lock := m.locks.get(collection, documentKey)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	// Remove the previous chunk set, if any.
	old, err := m.readDocumentRecord(ctx, collection, documentKey)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return err
	}
	if old != nil && len(old.ChunkIDs) > 0 {
		keys := make([]string, len(old.ChunkIDs))
		for i, id := range old.ChunkIDs {
			keys[i] = m.chunkKey(collection, id)
		}
		if err := m.store.DelMulti(ctx, keys); err != nil {
			return m.storeErr("delete old chunks", err)
		}
	}

	items := make([]db.HashSetItem, len(chunks))
	chunkIDs := make([]string, len(chunks))
	parentCount := 0
	for i := range chunks {
		c := &chunks[i]
		items[i] = db.HashSetItem{
			Key:    m.chunkKey(collection, c.ID()),
			Fields: chunkToFields(c),
		}
		chunkIDs[i] = c.ID()
		if c.Tier() == chunk.TierParent {
			parentCount++
		}
		metrics.ChunksIndexedTotal.WithLabelValues(collection, tierToField(c.Tier())).Inc()
	}
	if err := m.store.HSetMulti(ctx, items); err != nil {
		return m.storeErr("insert chunks", err)
	}

	rec := documentRecord{
		DocumentKey: documentKey,
		ChunkCount:  len(chunks),
		ParentCount: parentCount,
		ChunkIDs:    chunkIDs,
		SourceHash:  sourceHash,
		IndexedAt:   time.Now().UTC(),
	}
	if err := m.writeDocumentRecord(ctx, collection, &rec); err != nil {
		return err
	}

	metrics.DocumentsIndexedTotal.WithLabelValues(collection).Inc()
	m.logger.Info("indexed document",
		zap.String("collection", collection),
		zap.String("document_key", documentKey),
		zap.Int("chunks", len(chunks)),
		zap.Int("parents", parentCount))
	return nil
}

// IsIndexed reports whether documentKey is indexed with the given source
// hash. A hash mismatch means the source changed and re-indexing is due.
func (m *Manager) IsIndexed(ctx context.Context, collection, documentKey, sourceHash string) (bool, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	rec, err := m.readDocumentRecord(ctx, collection, documentKey)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.SourceHash == sourceHash, nil
}

// Document returns the bookkeeping record for documentKey.
func (m *Manager) Document(ctx context.Context, collection, documentKey string) (domain.IndexedDocument, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	rec, err := m.readDocumentRecord(ctx, collection, documentKey)
	if err != nil {
		return domain.IndexedDocument{}, err
	}
	return rec.toDomain(), nil
}

// DeleteDocument removes a document's chunks and bookkeeping record.
// Deleting an absent document is a no-op.
func (m *Manager) DeleteDocument(ctx context.Context, collection, documentKey string) error {
	if !domain.KnownCollection(collection) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}

	lock := m.locks.get(collection, documentKey)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	rec, err := m.readDocumentRecord(ctx, collection, documentKey)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(rec.ChunkIDs)+1)
	for _, id := range rec.ChunkIDs {
		keys = append(keys, m.chunkKey(collection, id))
	}
	keys = append(keys, m.docKey(collection, documentKey))
	if err := m.store.DelMulti(ctx, keys); err != nil {
		return m.storeErr("delete document", err)
	}

	m.logger.Info("deleted document",
		zap.String("collection", collection),
		zap.String("document_key", documentKey),
		zap.Int("chunks", len(rec.ChunkIDs)))
	return nil
}

// ClearCollection removes every chunk and document record in a collection.
// The vector index itself is kept.
func (m *Manager) ClearCollection(ctx context.Context, collection string) error {
	if !domain.KnownCollection(collection) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	keys, err := m.store.Scan(ctx, domain.KeyPrefix+collection+":chunk:*")
	if err != nil {
		return m.storeErr("scan chunks", err)
	}
	docKeys, err := m.store.Scan(ctx, domain.KeyPrefix+collection+":doc:*")
	if err != nil {
		return m.storeErr("scan documents", err)
	}
	keys = append(keys, docKeys...)
	if len(keys) == 0 {
		return nil
	}
	if err := m.store.DelMulti(ctx, keys); err != nil {
		return m.storeErr("clear collection", err)
	}

	m.logger.Info("cleared collection",
		zap.String("collection", collection), zap.Int("keys", len(keys)))
	return nil
}

// Stats counts chunks and documents in a collection.
func (m *Manager) Stats(ctx context.Context, collection string) (domain.CollectionStats, error) {
	if !domain.KnownCollection(collection) {
		return domain.CollectionStats{}, fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	chunks, err := m.store.Scan(ctx, domain.KeyPrefix+collection+":chunk:*")
	if err != nil {
		return domain.CollectionStats{}, m.storeErr("scan chunks", err)
	}
	docs, err := m.store.Scan(ctx, domain.KeyPrefix+collection+":doc:*")
	if err != nil {
		return domain.CollectionStats{}, m.storeErr("scan documents", err)
	}
	return domain.CollectionStats{ChunkCount: len(chunks), DocumentCount: len(docs)}, nil
}

func (m *Manager) readDocumentRecord(ctx context.Context, collection, documentKey string) (*documentRecord, error) {
	data, err := m.store.Get(ctx, m.docKey(collection, documentKey))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrDocumentNotFound, collection, documentKey)
	}
	if err != nil {
		return nil, m.storeErr("get document record", err)
	}
	var rec documentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode document record %s/%s: %w", collection, documentKey, err)
	}
	return &rec, nil
}

func (m *Manager) writeDocumentRecord(ctx context.Context, collection string, rec *documentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode document record: %w", err)
	}
	if err := m.store.Set(ctx, m.docKey(collection, rec.DocumentKey), data); err != nil {
		return m.storeErr("set document record", err)
	}
	return nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.opTimeout)
}

// storeErr marks a store failure as fatal to the calling operation. It is
// never degraded to an empty result: empty is a legitimate answer elsewhere
// and must stay distinguishable from a fault.
func (m *Manager) storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, err, domain.ErrStoreUnavailable)
}

func (m *Manager) indexName(collection string) string {
	return domain.KeyPrefix + collection + ":idx"
}

func (m *Manager) chunkPrefix(collection string) string {
	return domain.KeyPrefix + collection + ":chunk:"
}

func (m *Manager) chunkKey(collection, chunkID string) string {
	return m.chunkPrefix(collection) + chunkID
}

func (m *Manager) docKey(collection, documentKey string) string {
	return domain.KeyPrefix + collection + ":doc:" + documentKey
}

// validateChunks enforces the referential-integrity invariant before any
// write: every child's parent_id must reference a parent chunk in the same
// set and document, and every chunk must carry an embedding.
func validateChunks(documentKey string, chunks []chunk.Chunk) error {
	parents := make(map[string]struct{})
	for i := range chunks {
		if chunks[i].Tier() == chunk.TierParent {
			parents[chunks[i].ID()] = struct{}{}
		}
	}
	for i := range chunks {
		c := &chunks[i]
		if c.DocumentKey() != documentKey {
			return fmt.Errorf("chunk %s belongs to document %q, not %q", c.ID(), c.DocumentKey(), documentKey)
		}
		if len(c.Embedding()) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID())
		}
		if c.Tier() == chunk.TierChild {
			if _, ok := parents[c.ParentID()]; !ok {
				return fmt.Errorf("child chunk %s references missing parent %s", c.ID(), c.ParentID())
			}
		}
	}
	return nil
}
