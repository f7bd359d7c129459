package limited

import (
	"slices"
	"strings"
	"sync"
)

// Tracker remembers which keys the local tier holds and the tags they were
// written with. Ristretto cannot enumerate its keys, so tag and prefix
// deletion walk the tracker instead. Keys evicted by ristretto linger here
// until the next walk or lookup notices they are gone.
type Tracker struct {
	mu   sync.RWMutex
	tags map[string][]string
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{tags: make(map[string][]string)}
}

// Add records key with its tags, replacing earlier tags.
func (t *Tracker) Add(key string, tags []string) {
	t.mu.Lock()
	t.tags[key] = slices.Clone(tags)
	t.mu.Unlock()
}

// Remove forgets key.
func (t *Tracker) Remove(key string) {
	t.mu.Lock()
	delete(t.tags, key)
	t.mu.Unlock()
}

// Reset forgets every key.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.tags = make(map[string][]string)
	t.mu.Unlock()
}

// Tagged returns the tracked keys carrying any of tags.
func (t *Tracker) Tagged(tags []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var keys []string
	for k, kt := range t.tags {
		for _, tag := range tags {
			if slices.Contains(kt, tag) {
				keys = append(keys, k)
				break
			}
		}
	}
	return keys
}

// WithPrefix returns the tracked keys starting with any of prefixes.
func (t *Tracker) WithPrefix(prefixes []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var keys []string
	for k := range t.tags {
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				keys = append(keys, k)
				break
			}
		}
	}
	return keys
}
