package chunkstore

import "sync"

// docLocks hands out one RWMutex per (collection, document key). Writers
// hold the write lock across delete+insert so concurrent readers of the
// same document observe either the old or the new chunk set, never a mix.
// Locks are never released back; the map is bounded by the number of
// documents ever indexed in the process.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*sync.RWMutex)}
}

func (l *docLocks) get(collection, documentKey string) *sync.RWMutex {
	key := collection + "/" + documentKey
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[key] = lock
	}
	return lock
}
