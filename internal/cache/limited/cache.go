// Package limited implements the process-local cache tier.
package limited

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"goflare.io/wishcache/internal/cache"
	"goflare.io/wishcache/internal/models"
)

var _ cache.Store = (*Cache)(nil)

// Cache combines the ristretto store with key tracking.
type Cache struct {
	store      *RistrettoStore
	tracker    *Tracker
	defaultTTL time.Duration
}

// New creates a local tier bounded to maxSize bytes.
func New(maxSize uint64, defaultTTL time.Duration, logger *zap.Logger) (*Cache, error) {
	store, err := NewRistrettoStore(maxSize, defaultTTL, logger)
	if err != nil {
		return nil, err
	}

	return &Cache{
		store:      store,
		tracker:    NewTracker(),
		defaultTTL: defaultTTL,
	}, nil
}

// GetItem returns a copy of the value stored under key.
func (c *Cache) GetItem(_ context.Context, key string) ([]byte, bool, error) {
	entry, found := c.store.Get(key)
	if !found {
		c.tracker.Remove(key)
		return nil, false, nil
	}
	return bytes.Clone(entry.Data), true, nil
}

// Save stores a copy of value for ttl (defaultTTL when ttl <= 0).
func (c *Cache) Save(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	entry := models.NewEntry(value, time.Now().Add(ttl), tags...)
	if err := c.store.Set(ctx, key, entry); err != nil {
		return err
	}
	c.tracker.Add(key, tags)
	return nil
}

// DeleteItem removes a cache entry and stops tracking the key.
func (c *Cache) DeleteItem(_ context.Context, key string) error {
	c.store.Delete(key)
	c.tracker.Remove(key)
	return nil
}

// Clear empties the tier.
func (c *Cache) Clear(_ context.Context) error {
	c.store.Flush()
	c.tracker.Reset()
	return nil
}

// DeleteByTags removes entries written with any of tags and returns how
// many keys were dropped.
func (c *Cache) DeleteByTags(ctx context.Context, tags []string) int {
	return c.deleteAll(ctx, c.tracker.Tagged(tags))
}

// DeleteByPrefix removes entries whose key starts with any of prefixes.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefixes ...string) int {
	return c.deleteAll(ctx, c.tracker.WithPrefix(prefixes))
}

func (c *Cache) deleteAll(ctx context.Context, keys []string) int {
	for _, k := range keys {
		_ = c.DeleteItem(ctx, k)
	}
	return len(keys)
}

// Close releases ristretto resources.
func (c *Cache) Close() error {
	c.store.Close()
	c.tracker.Reset()
	return nil
}
