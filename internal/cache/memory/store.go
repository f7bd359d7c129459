// Package memory implements a shared-tier store that lives in the process.
// It suits single-instance deployments and tests: it honours per-entry TTLs
// and indexes tags, so it satisfies cache.TagInvalidator.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"goflare.io/wishcache/internal/cache"
	"goflare.io/wishcache/internal/models"
)

var (
	_ cache.Store          = (*Store)(nil)
	_ cache.TagInvalidator = (*Store)(nil)
)

// Store is an LRU bounded by entry count. Per-entry TTLs are checked on
// read; expired entries hold their slot until then or until evicted.
type Store struct {
	lru      *expirable.LRU[string, *models.Entry]
	mu       sync.Mutex                     // protects tag indexes
	tagIndex map[string]map[string]struct{} // tag → set of cache keys
}

// New creates a store holding at most maxEntries entries.
func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	s := &Store{tagIndex: make(map[string]map[string]struct{})}
	s.lru = expirable.NewLRU[string, *models.Entry](maxEntries, func(key string, value *models.Entry) {
		s.mu.Lock()
		s.untag(key, value.Tags)
		s.mu.Unlock()
	}, 0)
	return s
}

func (s *Store) GetItem(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.IsExpired() {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return bytes.Clone(entry.Data), true, nil
}

func (s *Store) Save(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	entry := models.NewEntry(value, exp, tags...)

	// Remove first so the eviction callback drops the old tags before the
	// new ones are indexed.
	s.lru.Remove(key)

	s.mu.Lock()
	for _, tag := range tags {
		if s.tagIndex[tag] == nil {
			s.tagIndex[tag] = make(map[string]struct{})
		}
		s.tagIndex[tag][key] = struct{}{}
	}
	s.mu.Unlock()

	s.lru.Add(key, entry)
	return nil
}

func (s *Store) DeleteItem(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// InvalidateTags removes all entries carrying any of tags and returns their
// keys.
func (s *Store) InvalidateTags(_ context.Context, tags []string) ([]string, error) {
	s.mu.Lock()
	toDelete := make(map[string]struct{})
	for _, tag := range tags {
		for k := range s.tagIndex[tag] {
			toDelete[k] = struct{}{}
		}
		delete(s.tagIndex, tag)
	}
	s.mu.Unlock()

	removed := make([]string, 0, len(toDelete))
	for key := range toDelete {
		s.lru.Remove(key)
		removed = append(removed, key)
	}
	return removed, nil
}

func (s *Store) Clear(_ context.Context) error {
	s.lru.Purge()
	s.mu.Lock()
	s.tagIndex = make(map[string]map[string]struct{})
	s.mu.Unlock()
	return nil
}

// untag removes key from each tag set. Must be called with mu held.
func (s *Store) untag(key string, tags []string) {
	for _, tag := range tags {
		if keys, ok := s.tagIndex[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(s.tagIndex, tag)
			}
		}
	}
}
