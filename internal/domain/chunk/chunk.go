// Package chunk defines the unit of indexed text shared by the chunker,
// the chunk store, and the retrieval engine.
package chunk

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/filingrag/internal/domain"
)

// Tier is the granularity level of a hierarchical chunk.
type Tier string

const (
	// TierParent is a section-level summary span.
	TierParent Tier = "parent"
	// TierChild is a fine-grained span within a parent section.
	TierChild Tier = "child"
	// TierFlat marks chunks of non-hierarchical documents (tier unset).
	TierFlat Tier = ""
)

// Chunk is an immutable span of document text with positional and structural
// metadata. The embedding is attached once at index time and never mutated.
type Chunk struct {
	id           string
	documentKey  string
	text         string
	tier         Tier
	parentID     string
	sectionLabel string
	sourceType   domain.SourceType
	seq          int
	createdAt    time.Time
	embedding    []float32
}

// New validates and creates a Chunk. Embedding is unset at this stage.
//
// Invariants: a child chunk must carry the id of its owning parent; parent
// and flat chunks must not.
func New(
	id, documentKey, text string,
	tier Tier, parentID, sectionLabel string,
	sourceType domain.SourceType, seq int, createdAt time.Time,
) (Chunk, error) {
	if id == "" {
		return Chunk{}, fmt.Errorf("chunk id is required")
	}
	if documentKey == "" {
		return Chunk{}, fmt.Errorf("document key is required for chunk %q", id)
	}
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk %q has empty text", id)
	}
	switch tier {
	case TierChild:
		if parentID == "" {
			return Chunk{}, fmt.Errorf("child chunk %q has no parent id", id)
		}
	case TierParent, TierFlat:
		if parentID != "" {
			return Chunk{}, fmt.Errorf("%s chunk %q must not have a parent id", tierName(tier), id)
		}
	default:
		return Chunk{}, fmt.Errorf("chunk %q has unknown tier %q", id, tier)
	}

	return Chunk{
		id:           id,
		documentKey:  documentKey,
		text:         text,
		tier:         tier,
		parentID:     parentID,
		sectionLabel: sectionLabel,
		sourceType:   sourceType,
		seq:          seq,
		createdAt:    createdAt,
	}, nil
}

// Reconstruct creates a Chunk without validation (storage hydration).
func Reconstruct(
	id, documentKey, text string,
	tier Tier, parentID, sectionLabel string,
	sourceType domain.SourceType, seq int, createdAt time.Time,
	embedding []float32,
) Chunk {
	return Chunk{
		id: id, documentKey: documentKey, text: text,
		tier: tier, parentID: parentID, sectionLabel: sectionLabel,
		sourceType: sourceType, seq: seq, createdAt: createdAt,
		embedding: embedding,
	}
}

// ID returns the chunk identifier, unique within a collection.
func (c *Chunk) ID() string { return c.id }

// DocumentKey returns the owning document's key.
func (c *Chunk) DocumentKey() string { return c.documentKey }

// Text returns the chunk's literal content.
func (c *Chunk) Text() string { return c.text }

// Tier returns the chunk's granularity level.
func (c *Chunk) Tier() Tier { return c.tier }

// ParentID returns the owning parent chunk id, empty for parent/flat chunks.
func (c *Chunk) ParentID() string { return c.parentID }

// SectionLabel returns the normalized section header, if any.
func (c *Chunk) SectionLabel() string { return c.sectionLabel }

// SourceType returns the document origin.
func (c *Chunk) SourceType() domain.SourceType { return c.sourceType }

// Seq returns the chunk's position within its document.
func (c *Chunk) Seq() int { return c.seq }

// CreatedAt returns the chunk creation time.
func (c *Chunk) CreatedAt() time.Time { return c.createdAt }

// Embedding returns the attached vector, nil before index time.
func (c *Chunk) Embedding() []float32 { return c.embedding }

// WithEmbedding returns a copy with the given vector attached.
func (c *Chunk) WithEmbedding(v []float32) Chunk {
	out := *c
	out.embedding = v
	return out
}

func tierName(t Tier) string {
	if t == TierFlat {
		return "flat"
	}
	return string(t)
}
