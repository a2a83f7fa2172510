// Package chunker splits raw documents into overlapping text segments.
// SEC filings get hierarchical parent/child chunks keyed by recognized
// section headers; news articles get flat paragraph-based chunks.
package chunker

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
)

// Config holds chunk sizing. Sizes are measured in whitespace-delimited
// words, which approximate model tokens closely enough for sizing.
type Config struct {
	ParentSize      int
	ChildSize       int
	Overlap         int
	NewsMinSize     int
	NewsMaxSize     int
	MinSectionChars int
}

// DefaultConfig returns the standard sizing.
func DefaultConfig() Config {
	return Config{
		ParentSize:      800,
		ChildSize:       400,
		Overlap:         50,
		NewsMinSize:     150,
		NewsMaxSize:     300,
		MinSectionChars: 100,
	}
}

// Chunker produces chunks for both document kinds. Safe for concurrent use.
type Chunker struct {
	cfg Config
	now func() time.Time
}

// New validates the configuration and creates a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.ParentSize <= 0 || cfg.ChildSize <= 0 {
		return nil, fmt.Errorf("%w: parent and child sizes must be positive", domain.ErrChunkingConfig)
	}
	if cfg.Overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative", domain.ErrChunkingConfig)
	}
	if cfg.Overlap > cfg.ChildSize/2 {
		return nil, fmt.Errorf("%w: overlap %d exceeds half of child size %d",
			domain.ErrChunkingConfig, cfg.Overlap, cfg.ChildSize)
	}
	if cfg.NewsMinSize <= 0 || cfg.NewsMaxSize <= 0 || cfg.NewsMinSize >= cfg.NewsMaxSize {
		return nil, fmt.Errorf("%w: news sizes must satisfy 0 < min < max", domain.ErrChunkingConfig)
	}
	if cfg.MinSectionChars < 0 {
		return nil, fmt.Errorf("%w: min section chars must not be negative", domain.ErrChunkingConfig)
	}
	return &Chunker{cfg: cfg, now: time.Now}, nil
}

// Chunk splits raw text according to the source type's strategy. Chunk
// embeddings are unset at this stage. Empty input yields zero chunks.
func (c *Chunker) Chunk(documentKey string, source domain.SourceType, text string) ([]chunk.Chunk, error) {
	if documentKey == "" {
		return nil, fmt.Errorf("document key is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	switch source {
	case domain.SourceSECFiling:
		return c.chunkFiling(documentKey, text)
	case domain.SourceNewsArticle:
		return c.chunkFlat(documentKey, domain.SourceNewsArticle, text)
	default:
		return nil, fmt.Errorf("unknown source type %q", source)
	}
}

// chunkFiling splits a filing into recognized sections, emitting one parent
// chunk per section followed by its overlapping child chunks. Filings with
// no recognized section headers fall back to flat chunking so no document
// is silently dropped.
func (c *Chunker) chunkFiling(documentKey, text string) ([]chunk.Chunk, error) {
	sections := extractSections(text, c.cfg.MinSectionChars)
	if len(sections) == 0 {
		return c.chunkFlat(documentKey, domain.SourceSECFiling, text)
	}

	createdAt := c.now().UTC()
	var out []chunk.Chunk
	seq := 0
	childSeq := 0

	for pi, sec := range sections {
		words := strings.Fields(sec.text)
		if len(words) == 0 {
			continue
		}

		parentID := chunkID(documentKey, chunk.TierParent, pi)
		parent, err := chunk.New(
			parentID, documentKey, c.parentExcerpt(sec.label, words),
			chunk.TierParent, "", sec.label,
			domain.SourceSECFiling, seq, createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("build parent chunk for %q: %w", sec.label, err)
		}
		out = append(out, parent)
		seq++

		for _, window := range wordWindows(words, c.cfg.ChildSize, c.cfg.Overlap) {
			child, err := chunk.New(
				chunkID(documentKey, chunk.TierChild, childSeq), documentKey, strings.Join(window, " "),
				chunk.TierChild, parentID, sec.label,
				domain.SourceSECFiling, seq, createdAt,
			)
			if err != nil {
				return nil, fmt.Errorf("build child chunk for %q: %w", sec.label, err)
			}
			out = append(out, child)
			seq++
			childSeq++
		}
	}

	return out, nil
}

// parentExcerpt takes the first ParentSize words of a section, trimmed back
// to the last sentence end when one falls past the halfway point.
func (c *Chunker) parentExcerpt(label string, words []string) string {
	n := c.cfg.ParentSize
	if n > len(words) {
		n = len(words)
	}
	excerpt := strings.Join(words[:n], " ")
	if n < len(words) {
		if cut := strings.LastIndex(excerpt, ". "); cut > len(excerpt)/2 {
			excerpt = excerpt[:cut+1]
		}
	}
	return fmt.Sprintf("[Section: %s]\n\n%s", label, excerpt)
}

// chunkFlat splits text on paragraph boundaries, merging short paragraphs
// and splitting long ones so chunks land within [NewsMinSize, NewsMaxSize].
func (c *Chunker) chunkFlat(documentKey string, source domain.SourceType, text string) ([]chunk.Chunk, error) {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	pieces := mergeParagraphs(paragraphs, c.cfg.NewsMinSize, c.cfg.NewsMaxSize)

	createdAt := c.now().UTC()
	out := make([]chunk.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		ch, err := chunk.New(
			chunkID(documentKey, chunk.TierFlat, i), documentKey, piece,
			chunk.TierFlat, "", "",
			source, i, createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("build flat chunk %d: %w", i, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

// chunkID derives a deterministic identifier so re-indexing the same
// document overwrites rather than duplicates.
func chunkID(documentKey string, tier chunk.Tier, n int) string {
	t := string(tier)
	if tier == chunk.TierFlat {
		t = "flat"
	}
	return fmt.Sprintf("%s:%s:%04d", documentKey, t, n)
}

// wordWindows slides a window of size over words, stepping size-overlap
// each time. The final window is clamped to the end of the slice, so the
// concatenation of windows minus overlaps reproduces the input exactly.
func wordWindows(words []string, size, overlap int) [][]string {
	if len(words) == 0 {
		return nil
	}
	step := size - overlap
	var windows [][]string
	for start := 0; ; start += step {
		end := start + size
		if end >= len(words) {
			windows = append(windows, words[start:])
			return windows
		}
		windows = append(windows, words[start:end])
	}
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeParagraphs packs paragraphs into chunks of at most maxSize words,
// flushing once a chunk reaches minSize. When the next paragraph would
// overflow a still-undersized buffer, the two are combined and split evenly
// instead of emitting a piece below minSize. Paragraphs longer than maxSize
// are split evenly on their own.
func mergeParagraphs(paragraphs []string, minSize, maxSize int) []string {
	var (
		pieces  []string
		buf     []string
		bufSize int
	)
	flush := func() {
		if len(buf) > 0 {
			pieces = append(pieces, strings.Join(buf, "\n\n"))
			buf = nil
			bufSize = 0
		}
	}

	for _, para := range paragraphs {
		words := strings.Fields(para)

		if bufSize+len(words) > maxSize {
			if bufSize >= minSize {
				flush()
			} else if bufSize > 0 {
				combined := make([]string, 0, bufSize+len(words))
				for _, p := range buf {
					combined = append(combined, strings.Fields(p)...)
				}
				combined = append(combined, words...)
				pieces = append(pieces, splitEvenly(combined, maxSize)...)
				buf = nil
				bufSize = 0
				continue
			}
		}

		if len(words) > maxSize {
			pieces = append(pieces, splitEvenly(words, maxSize)...)
			continue
		}

		buf = append(buf, para)
		bufSize += len(words)
		if bufSize >= minSize {
			flush()
		}
	}
	flush()

	return pieces
}

// splitEvenly breaks words into near-equal pieces of at most maxSize each.
func splitEvenly(words []string, maxSize int) []string {
	n := (len(words) + maxSize - 1) / maxSize
	size := (len(words) + n - 1) / n
	var out []string
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}
