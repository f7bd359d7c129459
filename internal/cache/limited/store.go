package limited

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"goflare.io/wishcache/internal/models"
)

const (
	avgItemSize = 1024
	minItems    = 1000
	// entryOverhead approximates the bookkeeping cost of one entry.
	entryOverhead = 64
)

// ErrRejected is returned when ristretto declines to admit an entry.
var ErrRejected = errors.New("local cache rejected entry")

// RistrettoStore keeps entries in a ristretto cache. The cost of an entry is
// its payload size, so MaxCost is a byte budget.
type RistrettoStore struct {
	cache      *ristretto.Cache[string, *models.Entry]
	logger     *zap.Logger
	defaultTTL time.Duration
}

// NewRistrettoStore creates a store holding at most maxSize bytes.
func NewRistrettoStore(maxSize uint64, defaultTTL time.Duration, logger *zap.Logger) (*RistrettoStore, error) {
	items := max(int64(maxSize/avgItemSize), minItems)

	c, err := ristretto.NewCache(&ristretto.Config[string, *models.Entry]{
		NumCounters:        items * 10,
		MaxCost:            int64(maxSize),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &RistrettoStore{
		cache:      c,
		logger:     logger,
		defaultTTL: defaultTTL,
	}, nil
}

// Set stores entry until its expiration. Set waits for ristretto's write
// buffer so a following Get observes the entry.
func (s *RistrettoStore) Set(ctx context.Context, key string, entry *models.Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ttl := time.Until(entry.Expiration)
	if entry.Expiration.IsZero() || ttl <= 0 {
		ttl = s.defaultTTL
	}

	if !s.cache.SetWithTTL(key, entry, int64(len(entry.Data))+entryOverhead, ttl) {
		s.logger.Warn("Ristretto SetWithTTL rejected entry", zap.String("key", key))
		return ErrRejected
	}
	s.cache.Wait()
	return nil
}

// Get retrieves an unexpired entry.
func (s *RistrettoStore) Get(key string) (*models.Entry, bool) {
	entry, found := s.cache.Get(key)
	if !found || entry == nil {
		return nil, false
	}
	if entry.IsExpired() {
		s.cache.Del(key)
		return nil, false
	}
	return entry, true
}

// Delete removes a cache entry.
func (s *RistrettoStore) Delete(key string) {
	s.cache.Del(key)
}

// Flush clears the entire cache.
func (s *RistrettoStore) Flush() {
	s.cache.Clear()
}

// Close stops ristretto's background goroutines.
func (s *RistrettoStore) Close() {
	s.cache.Close()
}
