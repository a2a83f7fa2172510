package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingrag/internal/db"
	"github.com/kailas-cloud/filingrag/internal/db/memory"
	"github.com/kailas-cloud/filingrag/internal/domain"
	"github.com/kailas-cloud/filingrag/internal/domain/chunk"
	"github.com/kailas-cloud/filingrag/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterRetrievalMetrics()
	os.Exit(m.Run())
}

const testDim = 4

func newTestManager(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	s := memory.NewStore()
	m := New(s, 0, zap.NewNop())
	for _, col := range []string{domain.CollectionFilings, domain.CollectionNews} {
		if err := m.EnsureCollection(context.Background(), col, testDim); err != nil {
			t.Fatalf("EnsureCollection(%s): %v", col, err)
		}
	}
	return m, s
}

// embeddedChunk builds a chunk with a unit-ish test vector.
func embeddedChunk(t *testing.T, id, documentKey string, tier chunk.Tier, parentID, label string, seq int, vec []float32) chunk.Chunk {
	t.Helper()
	c, err := chunk.New(id, documentKey, "text of "+id, tier, parentID, label,
		domain.SourceSECFiling, seq, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("chunk.New(%s): %v", id, err)
	}
	return c.WithEmbedding(vec)
}

// hierarchicalDoc builds one parent with two children.
func hierarchicalDoc(t *testing.T, documentKey, suffix string) []chunk.Chunk {
	t.Helper()
	parentID := documentKey + ":parent:" + suffix
	return []chunk.Chunk{
		embeddedChunk(t, parentID, documentKey, chunk.TierParent, "", "Item 1 - Business", 0,
			[]float32{1, 0, 0, 0}),
		embeddedChunk(t, documentKey+":child:"+suffix+"0", documentKey, chunk.TierChild, parentID, "Item 1 - Business", 1,
			[]float32{0.9, 0.1, 0, 0}),
		embeddedChunk(t, documentKey+":child:"+suffix+"1", documentKey, chunk.TierChild, parentID, "Item 1 - Business", 2,
			[]float32{0.8, 0.2, 0, 0}),
	}
}

func TestUpsertDocument_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	chunks := hierarchicalDoc(t, "AAPL_10-K_2024", "a")

	if err := m.UpsertDocument(ctx, domain.CollectionFilings, "AAPL_10-K_2024", "hash-1", chunks); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	doc, err := m.Document(ctx, domain.CollectionFilings, "AAPL_10-K_2024")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.ChunkCount() != 3 {
		t.Errorf("ChunkCount = %d, want 3", doc.ChunkCount())
	}
	if doc.ParentCount() != 1 {
		t.Errorf("ParentCount = %d, want 1", doc.ParentCount())
	}
	if doc.SourceHash() != "hash-1" {
		t.Errorf("SourceHash = %q, want hash-1", doc.SourceHash())
	}

	results, err := m.Query(ctx, domain.CollectionFilings, []float32{1, 0, 0, 0},
		ParentFilter("AAPL_10-K_2024"), 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("parent query returned %d results, want 1", len(results))
	}
	if results[0].Tier() != chunk.TierParent {
		t.Errorf("result tier = %q, want parent", results[0].Tier())
	}
	if results[0].SectionLabel() != "Item 1 - Business" {
		t.Errorf("result label = %q", results[0].SectionLabel())
	}
}

func TestUpsertDocument_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := "MSFT_10-K_2023"
	chunks := hierarchicalDoc(t, key, "a")

	for i := 0; i < 2; i++ {
		if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "hash", chunks); err != nil {
			t.Fatalf("UpsertDocument #%d: %v", i+1, err)
		}
	}

	stats, err := m.Stats(ctx, domain.CollectionFilings)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ChunkCount != 3 || stats.DocumentCount != 1 {
		t.Errorf("stats = %+v, want 3 chunks / 1 document", stats)
	}
}

func TestUpsertDocument_ReplacesOldChunks(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := "TSLA_10-K_2024"

	if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "v1", hierarchicalDoc(t, key, "v1_")); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	v2 := []chunk.Chunk{
		embeddedChunk(t, key+":parent:v2_", key, chunk.TierParent, "", "Item 1A - Risk Factors", 0,
			[]float32{0, 1, 0, 0}),
	}
	if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "v2", v2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	stats, err := m.Stats(ctx, domain.CollectionFilings)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ChunkCount != 1 {
		t.Errorf("chunk count = %d after replace, want 1", stats.ChunkCount)
	}

	results, err := m.Query(ctx, domain.CollectionFilings, []float32{1, 1, 0, 0},
		ParentFilter(key), 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID() != key+":parent:v2_" {
		t.Errorf("post-replace results = %+v", results)
	}
}

func TestIsIndexed(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := "NVDA_10-K_2024"

	ok, err := m.IsIndexed(ctx, domain.CollectionFilings, key, "h1")
	if err != nil || ok {
		t.Fatalf("IsIndexed before indexing = %v, %v; want false, nil", ok, err)
	}

	if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "h1", hierarchicalDoc(t, key, "a")); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	ok, err = m.IsIndexed(ctx, domain.CollectionFilings, key, "h1")
	if err != nil || !ok {
		t.Errorf("IsIndexed with matching hash = %v, %v; want true, nil", ok, err)
	}
	ok, err = m.IsIndexed(ctx, domain.CollectionFilings, key, "h2")
	if err != nil || ok {
		t.Errorf("IsIndexed with changed hash = %v, %v; want false, nil", ok, err)
	}
}

func TestDeleteDocument(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := "AMZN_10-K_2024"

	// Absent document is a no-op, not an error.
	if err := m.DeleteDocument(ctx, domain.CollectionFilings, key); err != nil {
		t.Fatalf("DeleteDocument(absent): %v", err)
	}

	if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "h", hierarchicalDoc(t, key, "a")); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := m.DeleteDocument(ctx, domain.CollectionFilings, key); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := m.Document(ctx, domain.CollectionFilings, key); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("Document after delete error = %v, want ErrDocumentNotFound", err)
	}
	stats, err := m.Stats(ctx, domain.CollectionFilings)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ChunkCount != 0 || stats.DocumentCount != 0 {
		t.Errorf("stats after delete = %+v, want empty", stats)
	}
}

func TestClearCollection_IsScoped(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.UpsertDocument(ctx, domain.CollectionFilings, "F1", "h", hierarchicalDoc(t, "F1", "a")); err != nil {
		t.Fatalf("upsert filings: %v", err)
	}
	news := []chunk.Chunk{
		embeddedChunk(t, "N1:flat:0000", "N1", chunk.TierFlat, "", "", 0, []float32{0, 0, 1, 0}),
	}
	if err := m.UpsertDocument(ctx, domain.CollectionNews, "N1", "h", news); err != nil {
		t.Fatalf("upsert news: %v", err)
	}

	if err := m.ClearCollection(ctx, domain.CollectionFilings); err != nil {
		t.Fatalf("ClearCollection: %v", err)
	}

	filings, err := m.Stats(ctx, domain.CollectionFilings)
	if err != nil {
		t.Fatalf("Stats filings: %v", err)
	}
	if filings.ChunkCount != 0 || filings.DocumentCount != 0 {
		t.Errorf("filings stats = %+v, want empty", filings)
	}
	newsStats, err := m.Stats(ctx, domain.CollectionNews)
	if err != nil {
		t.Fatalf("Stats news: %v", err)
	}
	if newsStats.ChunkCount != 1 || newsStats.DocumentCount != 1 {
		t.Errorf("news stats = %+v, want untouched", newsStats)
	}
}

func TestQuery_EmptyCollection(t *testing.T) {
	m, _ := newTestManager(t)

	results, err := m.Query(context.Background(), domain.CollectionNews, []float32{1, 0, 0, 0},
		FlatFilter("missing"), 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestUpsertDocument_Validation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := "BAD_10-K_2024"

	t.Run("missing parent", func(t *testing.T) {
		orphan := []chunk.Chunk{
			embeddedChunk(t, key+":child:0000", key, chunk.TierChild, key+":parent:0099", "Item 1 - Business", 0,
				[]float32{1, 0, 0, 0}),
		}
		if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "h", orphan); err == nil {
			t.Error("upsert with orphan child succeeded, want error")
		}
	})

	t.Run("missing embedding", func(t *testing.T) {
		c, err := chunk.New(key+":parent:0000", key, "text", chunk.TierParent, "", "Item 1 - Business",
			domain.SourceSECFiling, 0, time.Now())
		if err != nil {
			t.Fatalf("chunk.New: %v", err)
		}
		if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "h", []chunk.Chunk{c}); err == nil {
			t.Error("upsert without embedding succeeded, want error")
		}
	})

	t.Run("foreign document key", func(t *testing.T) {
		foreign := hierarchicalDoc(t, "OTHER_10-K_2024", "a")
		if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "h", foreign); err == nil {
			t.Error("upsert with foreign chunks succeeded, want error")
		}
	})

	t.Run("unknown collection", func(t *testing.T) {
		err := m.UpsertDocument(ctx, "podcasts", key, "h", hierarchicalDoc(t, key, "a"))
		if !errors.Is(err, domain.ErrUnknownCollection) {
			t.Errorf("error = %v, want ErrUnknownCollection", err)
		}
	})
}

// --- Mocks ---

// hookStore wraps the memory driver with interception points for the
// atomic re-index visibility test.
type hookStore struct {
	*memory.Store
	onDelMulti  func()
	onHSetMulti func()
}

func (h *hookStore) DelMulti(ctx context.Context, keys []string) error {
	if h.onDelMulti != nil {
		h.onDelMulti()
	}
	return h.Store.DelMulti(ctx, keys)
}

func (h *hookStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if h.onHSetMulti != nil {
		h.onHSetMulti()
	}
	return h.Store.HSetMulti(ctx, items)
}

func TestUpsertDocument_AtomicVisibility(t *testing.T) {
	hs := &hookStore{Store: memory.NewStore()}
	m := New(hs, 0, zap.NewNop())
	ctx := context.Background()
	if err := m.EnsureCollection(ctx, domain.CollectionFilings, testDim); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	key := "GOOG_10-K_2024"
	if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "v1", hierarchicalDoc(t, key, "v1_")); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}

	deleteStarted := make(chan struct{})
	proceed := make(chan struct{})
	var once bool
	hs.onDelMulti = func() {
		if !once {
			once = true
			close(deleteStarted)
			<-proceed
		}
	}

	upsertDone := make(chan error, 1)
	go func() {
		v2 := []chunk.Chunk{
			embeddedChunk(t, key+":parent:v2_", key, chunk.TierParent, "", "Item 2 - Properties", 0,
				[]float32{0, 1, 0, 0}),
		}
		upsertDone <- m.UpsertDocument(ctx, domain.CollectionFilings, key, "v2", v2)
	}()

	<-deleteStarted

	// The writer now sits inside the critical section with the old chunks
	// about to be deleted. A concurrent document-scoped query must block
	// until the write completes rather than observe the gap.
	queryDone := make(chan int, 1)
	go func() {
		results, err := m.Query(ctx, domain.CollectionFilings, []float32{1, 1, 0, 0}, ParentFilter(key), 10)
		if err != nil {
			t.Errorf("Query: %v", err)
		}
		queryDone <- len(results)
	}()

	select {
	case n := <-queryDone:
		t.Fatalf("query returned %d results while re-index was in flight", n)
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	if err := <-upsertDone; err != nil {
		t.Fatalf("concurrent upsert: %v", err)
	}

	select {
	case n := <-queryDone:
		if n != 1 {
			t.Errorf("post-upsert query saw %d parents, want exactly the new set (1)", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query never completed after upsert finished")
	}
}

func TestQuery_RejectsBadInput(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Query(ctx, "podcasts", []float32{1}, ParentFilter("x"), 5); !errors.Is(err, domain.ErrUnknownCollection) {
		t.Errorf("unknown collection error = %v", err)
	}
	if _, err := m.Query(ctx, domain.CollectionFilings, []float32{1, 0, 0, 0}, ParentFilter("x"), 0); err == nil {
		t.Error("Query with topK=0 succeeded, want error")
	}
}

func TestStats_PerCollection(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("DOC_%d", i)
		if err := m.UpsertDocument(ctx, domain.CollectionFilings, key, "h", hierarchicalDoc(t, key, "a")); err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
	}

	stats, err := m.Stats(ctx, domain.CollectionFilings)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 3 {
		t.Errorf("DocumentCount = %d, want 3", stats.DocumentCount)
	}
	if stats.ChunkCount != 9 {
		t.Errorf("ChunkCount = %d, want 9", stats.ChunkCount)
	}
}
