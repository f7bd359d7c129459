package wishcache

import (
	"goflare.io/wishcache/internal/cache"
	"goflare.io/wishcache/internal/cache/multi"
	"goflare.io/wishcache/internal/config"
	"goflare.io/wishcache/internal/pricing"
)

var (
	// ErrStoreUnavailable is wrapped by every error caused by the shared tier.
	ErrStoreUnavailable = cache.ErrStoreUnavailable
	// ErrEmptyKey is returned for operations on an empty key.
	ErrEmptyKey = cache.ErrEmptyKey
	// ErrMiss is returned by Get without a loader when the key is absent.
	ErrMiss = multi.ErrMiss
	// ErrInvalidPolicy wraps every TTL policy validation failure.
	ErrInvalidPolicy = config.ErrInvalidPolicy
	// ErrBatchQuery marks a failed batched price query.
	ErrBatchQuery = pricing.ErrBatchQuery
)
