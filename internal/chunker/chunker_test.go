package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
)

func newTestChunker(t *testing.T) *Chunker {
	t.Helper()
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// nWords builds a section body of n distinct words.
func nWords(prefix string, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(words, " ")
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap over half child size", func(c *Config) { c.Overlap = c.ChildSize/2 + 1 }},
		{"negative overlap", func(c *Config) { c.Overlap = -1 }},
		{"zero child size", func(c *Config) { c.ChildSize = 0 }},
		{"zero parent size", func(c *Config) { c.ParentSize = 0 }},
		{"news min above max", func(c *Config) { c.NewsMinSize = c.NewsMaxSize + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, domain.ErrChunkingConfig) {
				t.Errorf("New error = %v, want ErrChunkingConfig", err)
			}
		})
	}
}

func TestChunk_EmptyInput(t *testing.T) {
	c := newTestChunker(t)
	for _, text := range []string{"", "   \n\n  "} {
		chunks, err := c.Chunk("AAPL_10-K_2024", domain.SourceSECFiling, text)
		if err != nil {
			t.Fatalf("Chunk(%q): %v", text, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Chunk(%q) = %d chunks, want 0", text, len(chunks))
		}
	}
}

func TestChunk_FilingHierarchy(t *testing.T) {
	c := newTestChunker(t)
	text := "COVER PAGE BOILERPLATE\n\n" +
		"ITEM 1. BUSINESS\n\n" + nWords("biz", 600) + "\n\n" +
		"ITEM 1A. RISK FACTORS\n\n" + nWords("risk", 1800)

	chunks, err := c.Chunk("AAPL_10-K_2024", domain.SourceSECFiling, text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	parents := map[string]chunk.Chunk{}
	var children []chunk.Chunk
	for _, ch := range chunks {
		switch ch.Tier() {
		case chunk.TierParent:
			parents[ch.ID()] = ch
		case chunk.TierChild:
			children = append(children, ch)
		default:
			t.Errorf("unexpected flat chunk %s in hierarchical document", ch.ID())
		}
	}

	if len(parents) != 2 {
		t.Fatalf("parent count = %d, want 2", len(parents))
	}
	if len(children) == 0 {
		t.Fatal("no child chunks produced")
	}

	// Referential integrity: every child resolves to a parent in the
	// same document.
	for _, ch := range children {
		p, ok := parents[ch.ParentID()]
		if !ok {
			t.Errorf("child %s references missing parent %s", ch.ID(), ch.ParentID())
			continue
		}
		if p.DocumentKey() != ch.DocumentKey() {
			t.Errorf("child %s crosses documents", ch.ID())
		}
		if p.SectionLabel() != ch.SectionLabel() {
			t.Errorf("child %s label %q != parent label %q", ch.ID(), ch.SectionLabel(), p.SectionLabel())
		}
	}

	labels := map[string]bool{}
	for _, p := range parents {
		labels[p.SectionLabel()] = true
	}
	if !labels["Item 1 - Business"] || !labels["Item 1A - Risk Factors"] {
		t.Errorf("section labels = %v", labels)
	}

	// Boilerplate before the first header must be dropped.
	for _, ch := range chunks {
		if strings.Contains(ch.Text(), "COVER PAGE BOILERPLATE") {
			t.Errorf("chunk %s contains leading boilerplate", ch.ID())
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := newTestChunker(t)
	text := "ITEM 1. BUSINESS\n\n" + nWords("w", 900)

	first, err := c.Chunk("MSFT_10-K_2023", domain.SourceSECFiling, text)
	if err != nil {
		t.Fatalf("first Chunk: %v", err)
	}
	second, err := c.Chunk("MSFT_10-K_2023", domain.SourceSECFiling, text)
	if err != nil {
		t.Fatalf("second Chunk: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID() != second[i].ID() {
			t.Errorf("chunk %d id differs: %s vs %s", i, first[i].ID(), second[i].ID())
		}
		if first[i].Text() != second[i].Text() {
			t.Errorf("chunk %d text differs", i)
		}
	}
}

func TestChunk_CoverageRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := nWords("risk", 2000)
	text := "ITEM 1A. RISK FACTORS\n\n" + body

	chunks, err := c.Chunk("TSLA_10-K_2024", domain.SourceSECFiling, text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	var windows [][]string
	for _, ch := range chunks {
		if ch.Tier() == chunk.TierChild {
			windows = append(windows, strings.Fields(ch.Text()))
		}
	}
	if len(windows) < 2 {
		t.Fatalf("expected multiple children, got %d", len(windows))
	}

	// Overlap bound: adjacent children share exactly Overlap words.
	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		shared := cfg.Overlap
		if len(prev) < shared {
			shared = len(prev)
		}
		tail := prev[len(prev)-shared:]
		head := cur[:shared]
		if !reflect.DeepEqual(tail, head) {
			t.Fatalf("children %d/%d do not overlap by %d words", i-1, i, cfg.Overlap)
		}
	}

	// De-overlap and reassemble the section. The first window contributes
	// everything, the rest contribute all but the overlapping head.
	var rebuilt []string
	rebuilt = append(rebuilt, windows[0]...)
	for _, w := range windows[1:] {
		rebuilt = append(rebuilt, w[cfg.Overlap:]...)
	}

	original := strings.Fields("ITEM 1A. RISK FACTORS " + body)
	if !reflect.DeepEqual(rebuilt, original) {
		t.Errorf("round trip failed: rebuilt %d words, original %d words", len(rebuilt), len(original))
	}
}

func TestChunk_NoHeadersFallsBackToFlat(t *testing.T) {
	c := newTestChunker(t)
	text := nWords("plain", 500)

	chunks, err := c.Chunk("UNK_8-K_2024", domain.SourceSECFiling, text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("fallback produced zero chunks")
	}
	for _, ch := range chunks {
		if ch.Tier() != chunk.TierFlat {
			t.Errorf("chunk %s tier = %q, want flat", ch.ID(), ch.Tier())
		}
		if ch.ParentID() != "" {
			t.Errorf("flat chunk %s has parent id", ch.ID())
		}
	}
}

func TestChunk_ParentExcerptBounded(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text := "ITEM 1. BUSINESS\n\n" + nWords("w", 3000)

	chunks, err := c.Chunk("IBM_10-K_2024", domain.SourceSECFiling, text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	for _, ch := range chunks {
		if ch.Tier() != chunk.TierParent {
			continue
		}
		// Allow for the section label line on top of the excerpt.
		n := len(strings.Fields(ch.Text()))
		if n > cfg.ParentSize+10 {
			t.Errorf("parent excerpt has %d words, cap is %d", n, cfg.ParentSize)
		}
	}
}

func TestChunk_NewsSizes(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Short paragraphs to merge plus one oversized paragraph to split.
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		sb.WriteString(nWords(fmt.Sprintf("p%d_", i), 80))
		sb.WriteString("\n\n")
	}
	sb.WriteString(nWords("big", 700))

	chunks, err := c.Chunk("AAPL_news_42", domain.SourceNewsArticle, sb.String())
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("chunk count = %d, want at least 3", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Tier() != chunk.TierFlat {
			t.Errorf("news chunk %s tier = %q, want flat", ch.ID(), ch.Tier())
		}
		n := len(strings.Fields(ch.Text()))
		if n > cfg.NewsMaxSize {
			t.Errorf("chunk %d has %d words, max is %d", i, n, cfg.NewsMaxSize)
		}
		if i < len(chunks)-1 && n < cfg.NewsMinSize {
			t.Errorf("chunk %d has %d words, min is %d", i, n, cfg.NewsMinSize)
		}
	}
}

func TestChunk_NewsUndersizedBufferFoldsForward(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A 140-word paragraph followed by a 200-word one: neither fits the
	// other within NewsMaxSize, and flushing the first alone would fall
	// below NewsMinSize. The two must be recombined and split evenly.
	text := nWords("lead", 140) + "\n\n" + nWords("tail", 200)

	chunks, err := c.Chunk("AAPL_news_7", domain.SourceNewsArticle, text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(chunks))
	}

	total := 0
	for i, ch := range chunks {
		n := len(strings.Fields(ch.Text()))
		total += n
		if n < cfg.NewsMinSize || n > cfg.NewsMaxSize {
			t.Errorf("chunk %d has %d words, want within [%d, %d]",
				i, n, cfg.NewsMinSize, cfg.NewsMaxSize)
		}
	}
	if total != 340 {
		t.Errorf("total words = %d, want 340", total)
	}
}

func TestChunk_UnknownSource(t *testing.T) {
	c := newTestChunker(t)
	if _, err := c.Chunk("key", domain.SourceType("podcast"), "text"); err == nil {
		t.Error("Chunk with unknown source type succeeded, want error")
	}
}
