// Package cache defines the storage contract shared by every cache tier.
//
// Both the process-local tier and the shared tier implement Store, so the
// manager composes two values of the same interface. Tag-aware invalidation
// is a separate capability: a shared store either implements TagInvalidator
// or callers fall back to the key naming convention.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable marks a failure to reach or use a backing store.
	ErrStoreUnavailable = errors.New("cache store unavailable")
	// ErrEmptyKey is returned for operations on an empty key.
	ErrEmptyKey = errors.New("cache key must not be empty")
)

// Store is the minimal operation set of a cache tier.
type Store interface {
	// GetItem returns the value stored under key. A missing or expired key
	// is reported as (nil, false, nil); errors are reserved for store
	// failures.
	GetItem(ctx context.Context, key string) ([]byte, bool, error)

	// Save writes value under key for ttl, replacing any previous entry.
	// tags are recorded where the store supports them.
	Save(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	// DeleteItem removes key. Deleting a missing key is not an error.
	DeleteItem(ctx context.Context, key string) error

	// Clear removes every entry the store owns.
	Clear(ctx context.Context) error
}

// TagInvalidator is implemented by stores that index entries by tag.
type TagInvalidator interface {
	// InvalidateTags removes every entry written under any of tags and
	// returns the keys it removed, so callers can drop copies held elsewhere.
	InvalidateTags(ctx context.Context, tags []string) ([]string, error)
}
