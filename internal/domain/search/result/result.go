// Package result defines the annotated chunk returned by retrieval.
package result

import "github.com/kailas-cloud/filingrag/internal/domain/chunk"

// Result is a single retrieval hit: verbatim chunk text with section
// attribution and a similarity score. Text is never summarized or collapsed.
type Result struct {
	id           string
	documentKey  string
	text         string
	sectionLabel string
	tier         chunk.Tier
	parentID     string
	score        float64
}

// New creates a retrieval result.
func New(
	id, documentKey, text, sectionLabel string,
	tier chunk.Tier, parentID string, score float64,
) Result {
	return Result{
		id: id, documentKey: documentKey, text: text,
		sectionLabel: sectionLabel, tier: tier, parentID: parentID,
		score: score,
	}
}

// ID returns the chunk identifier.
func (r *Result) ID() string { return r.id }

// DocumentKey returns the owning document's key.
func (r *Result) DocumentKey() string { return r.documentKey }

// Text returns the verbatim chunk text.
func (r *Result) Text() string { return r.text }

// SectionLabel returns the section attribution, if any.
func (r *Result) SectionLabel() string { return r.sectionLabel }

// Tier returns the chunk tier.
func (r *Result) Tier() chunk.Tier { return r.tier }

// ParentID returns the owning parent chunk id, if any.
func (r *Result) ParentID() string { return r.parentID }

// Score returns the cosine similarity score in [0, 1].
func (r *Result) Score() float64 { return r.score }
