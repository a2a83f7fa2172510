// Package memory implements db.Store in process memory with brute-force
// cosine search. Used for tests and single-node local runs.
package memory

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/filingrag/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store is an in-process db.Store.
type Store struct {
	mu      sync.RWMutex
	hashes  map[string]map[string]string
	order   map[string]int // insertion sequence, for stable tie-breaks
	nextSeq int
	kv      map[string][]byte
	indexes map[string]*db.IndexDefinition
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		hashes:  make(map[string]map[string]string),
		order:   make(map[string]int),
		kv:      make(map[string][]byte),
		indexes: make(map[string]*db.IndexDefinition),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady always succeeds.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// HSet sets hash fields.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setHashLocked(key, fields)
	return nil
}

// HSetMulti stores multiple hashes.
func (s *Store) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.setHashLocked(item.Key, item.Fields)
	}
	return nil
}

func (s *Store) setHashLocked(key string, fields map[string]string) {
	existing, ok := s.hashes[key]
	if !ok {
		existing = make(map[string]string, len(fields))
		s.hashes[key] = existing
		s.order[key] = s.nextSeq
		s.nextSeq++
	}
	for k, v := range fields {
		existing[k] = v
	}
}

// HGetAll returns a copy of all fields of a hash. Missing keys yield an
// empty map, matching Redis HGETALL semantics.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

// Del deletes a key (hash or KV).
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delLocked(key)
	return nil
}

// DelMulti deletes multiple keys.
func (s *Store) DelMulti(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.delLocked(key)
	}
	return nil
}

func (s *Store) delLocked(key string) {
	delete(s.hashes, key)
	delete(s.order, key)
	delete(s.kv, key)
}

// Exists checks if a key exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.hashes[key]; ok {
		return true, nil
	}
	_, ok := s.kv[key]
	return ok, nil
}

// Scan returns keys matching a glob pattern.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.hashes {
		if globMatch(pattern, key) {
			keys = append(keys, key)
		}
	}
	for key := range s.kv {
		if globMatch(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get retrieves a KV value.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a KV value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]byte, len(value))
	copy(data, value)
	s.kv[key] = data
	return nil
}

// CreateIndex registers an index definition.
func (s *Store) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	cp := *def
	s.indexes[def.Name] = &cp
	return nil
}

// DropIndex removes an index definition. Indexed hashes are untouched.
func (s *Store) DropIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(s.indexes, name)
	return nil
}

// IndexExists reports whether an index is registered.
func (s *Store) IndexExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[name]
	return ok, nil
}

// SearchKNN performs brute-force cosine search over hashes under the
// index's key prefixes. Results are ordered by descending similarity with
// ties broken by insertion order.
func (s *Store) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.indexes[q.IndexName]
	if !ok {
		return nil, db.ErrIndexNotFound
	}

	type hit struct {
		key   string
		score float64
		seq   int
	}

	var hits []hit
	for key, fields := range s.hashes {
		if !hasAnyPrefix(key, def.Prefixes) {
			continue
		}
		if !q.Filters.Matches(fields) {
			continue
		}
		vec, err := db.BytesToVector([]byte(fields[def.Vector.Name]))
		if err != nil || len(vec) == 0 {
			continue
		}
		hits = append(hits, hit{key: key, score: cosine(q.Vector, vec), seq: s.order[key]})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].seq < hits[j].seq
	})

	total := len(hits)
	if len(hits) > q.K {
		hits = hits[:q.K]
	}

	entries := make([]db.SearchEntry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, db.SearchEntry{
			Key:    h.key,
			Score:  h.score,
			Fields: returnFields(s.hashes[h.key], q.ReturnFields, def.Vector.Name),
		})
	}

	return &db.SearchResult{Total: total, Entries: entries}, nil
}

func returnFields(fields map[string]string, requested []string, vectorField string) map[string]string {
	out := make(map[string]string)
	if len(requested) == 0 {
		for k, v := range fields {
			if k == vectorField {
				continue
			}
			out[k] = v
		}
		return out
	}
	for _, f := range requested {
		if f == "__vector_score" || f == vectorField {
			continue
		}
		if v, ok := fields[f]; ok {
			out[f] = v
		}
	}
	return out
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func globMatch(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return max(0, min(1, sim))
}
