package chunkstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/filingrag/internal/db"
	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
)

// Hash field names of a stored chunk record.
const (
	fieldID           = "id"
	fieldDocumentKey  = "document_key"
	fieldText         = "text"
	fieldTier         = "tier"
	fieldParentID     = "parent_id"
	fieldSectionLabel = "section_label"
	fieldSourceType   = "source_type"
	fieldSeq          = "seq"
	fieldCreatedAt    = "created_at"
	fieldEmbedding    = "embedding"
)

// tierFlatValue is stored instead of the empty flat tier so flat chunks
// remain filterable as a TAG value.
const tierFlatValue = "flat"

func tierToField(t chunk.Tier) string {
	if t == chunk.TierFlat {
		return tierFlatValue
	}
	return string(t)
}

func tierFromField(s string) chunk.Tier {
	if s == tierFlatValue {
		return chunk.TierFlat
	}
	return chunk.Tier(s)
}

func chunkToFields(c *chunk.Chunk) map[string]string {
	return map[string]string{
		fieldID:           c.ID(),
		fieldDocumentKey:  c.DocumentKey(),
		fieldText:         c.Text(),
		fieldTier:         tierToField(c.Tier()),
		fieldParentID:     c.ParentID(),
		fieldSectionLabel: c.SectionLabel(),
		fieldSourceType:   string(c.SourceType()),
		fieldSeq:          strconv.Itoa(c.Seq()),
		fieldCreatedAt:    c.CreatedAt().Format(time.RFC3339),
		fieldEmbedding:    string(db.VectorToBytes(c.Embedding())),
	}
}

func chunkFromFields(fields map[string]string) (chunk.Chunk, error) {
	if fields[fieldID] == "" {
		return chunk.Chunk{}, fmt.Errorf("chunk record has no id")
	}
	seq, _ := strconv.Atoi(fields[fieldSeq])
	createdAt, _ := time.Parse(time.RFC3339, fields[fieldCreatedAt])

	var embedding []float32
	if raw := fields[fieldEmbedding]; raw != "" {
		vec, err := db.BytesToVector([]byte(raw))
		if err != nil {
			return chunk.Chunk{}, fmt.Errorf("chunk %s: %w", fields[fieldID], err)
		}
		embedding = vec
	}

	return chunk.Reconstruct(
		fields[fieldID],
		fields[fieldDocumentKey],
		fields[fieldText],
		tierFromField(fields[fieldTier]),
		fields[fieldParentID],
		fields[fieldSectionLabel],
		domain.SourceType(fields[fieldSourceType]),
		seq,
		createdAt,
		embedding,
	), nil
}

// documentRecord is the persisted form of domain.IndexedDocument plus the
// chunk id list needed to delete the document's chunks without a scan.
type documentRecord struct {
	DocumentKey string    `json:"document_key"`
	ChunkCount  int       `json:"chunk_count"`
	ParentCount int       `json:"parent_count"`
	ChunkIDs    []string  `json:"chunk_ids"`
	SourceHash  string    `json:"source_hash"`
	IndexedAt   time.Time `json:"indexed_at"`
}

func (r *documentRecord) toDomain() domain.IndexedDocument {
	return domain.NewIndexedDocument(r.DocumentKey, r.ChunkCount, r.ParentCount, r.SourceHash, r.IndexedAt)
}
