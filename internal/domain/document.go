package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IndexedDocument is the bookkeeping record for one indexed document within a
// collection. Created on first successful indexing, replaced when the same
// document key is re-indexed with different content, never auto-deleted.
type IndexedDocument struct {
	documentKey string
	chunkCount  int
	parentCount int
	sourceHash  string
	indexedAt   time.Time
}

// NewIndexedDocument creates a bookkeeping record at index time.
func NewIndexedDocument(documentKey string, chunkCount, parentCount int, sourceHash string, indexedAt time.Time) IndexedDocument {
	return IndexedDocument{
		documentKey: documentKey,
		chunkCount:  chunkCount,
		parentCount: parentCount,
		sourceHash:  sourceHash,
		indexedAt:   indexedAt,
	}
}

// DocumentKey returns the identifier scoping all chunks of this document.
func (d *IndexedDocument) DocumentKey() string { return d.documentKey }

// ChunkCount returns the number of chunks indexed for this document.
func (d *IndexedDocument) ChunkCount() int { return d.chunkCount }

// ParentCount returns the number of PARENT-tier chunks. Zero means the
// document was chunked flat and degrades to single-stage search.
func (d *IndexedDocument) ParentCount() int { return d.parentCount }

// SourceHash returns the hash of the raw input text at index time.
func (d *IndexedDocument) SourceHash() string { return d.sourceHash }

// IndexedAt returns the time of the last (re-)indexing.
func (d *IndexedDocument) IndexedAt() time.Time { return d.indexedAt }

// HashText computes the source hash used to detect content changes between
// indexing runs of the same document key.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
