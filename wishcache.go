// Package wishcache accelerates wishlist reads with a two-tier cache and
// resolves product prices in batches.
//
// A Cache keeps a process-local tier in front of a shared tier (Redis, or an
// in-process store when no Redis is configured). Reads that miss both tiers
// call the caller's loader and store its result with a TTL picked by the key
// policy. Entries can carry tags and be invalidated by tag.
//
// Concurrent misses for the same key in different processes may both call
// the loader; the last write wins. Nothing here takes distributed locks.
package wishcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/wishcache/internal/cache"
	"goflare.io/wishcache/internal/cache/limited"
	"goflare.io/wishcache/internal/cache/memory"
	"goflare.io/wishcache/internal/cache/multi"
	"goflare.io/wishcache/internal/cache/remote"
	"goflare.io/wishcache/internal/catalog"
	"goflare.io/wishcache/internal/config"
	"goflare.io/wishcache/internal/keys"
	"goflare.io/wishcache/internal/metrics"
	"goflare.io/wishcache/internal/models"
	"goflare.io/wishcache/internal/policy"
	"goflare.io/wishcache/internal/pricing"
	"goflare.io/wishcache/pkg/serialization"
)

type (
	// Statistics is a snapshot of hit and miss counters.
	Statistics = models.StatsSnapshot
	// Policy maps keys to TTLs; see DefaultPolicy.
	Policy = policy.Policy
	// Rule is one entry of a Policy.
	Rule = policy.Rule
	// Loader produces a value on a full cache miss.
	Loader = multi.Loader

	// PricingContext is the currency, rule set and catalog version a price
	// is valid for.
	PricingContext = pricing.Context
	// PriceRecord is the resolved price of one product.
	PriceRecord = pricing.Record
	// PriceRow is a candidate price row from the system of record.
	PriceRow = pricing.Row
	// PriceSource is the system of record for prices.
	PriceSource = pricing.Source
	// PriceResolver resolves prices for sets of products.
	PriceResolver = pricing.Resolver
	// PostgresSource is a PriceSource backed by PostgreSQL.
	PostgresSource = catalog.PostgresSource
)

// Key and tag helpers. Tag invalidation against a shared tier without a tag
// index only finds keys built with these.
var (
	ListKey            = keys.ListKey
	ListItemsKey       = keys.ListItemsKey
	CustomerListsKey   = keys.CustomerListsKey
	CustomerDefaultKey = keys.CustomerDefaultKey
	ListTag            = keys.ListTag
	CustomerTag        = keys.CustomerTag
	ProductTag         = keys.ProductTag
	PricesTag          = keys.PricesTag

	DefaultPolicy = policy.Default
)

const defaultMemoryEntries = 100_000

// Cache is the wishlist cache.
type Cache struct {
	manager *multi.Manager
	cfg     *config.Config
	shared  cache.Store
	// ownedRedis is closed by Close; a client passed in by the caller is not.
	ownedRedis redis.UniversalClient
	pricing    *metrics.Pricing
	logger     *zap.Logger
}

// New builds a Cache. Without WithRedis or WithRedisClient the shared tier
// lives in this process.
func New(ctx context.Context, opts ...Option) (*Cache, error) {
	o := &options{memorySize: defaultMemoryEntries}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	cfg, err := config.NewConfig(o.config...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}

	c := &Cache{cfg: cfg, logger: cfg.Logger}

	switch {
	case o.redisClient != nil:
		c.shared, err = remote.New(o.redisClient, cfg)
	case o.redisOptions != nil:
		c.ownedRedis = redis.NewClient(o.redisOptions)
		var rs *remote.Store
		if rs, err = remote.New(c.ownedRedis, cfg); err == nil {
			if err = rs.Ping(ctx); err != nil {
				err = fmt.Errorf("failed to connect to Redis: %w", err)
			}
			c.shared = rs
		}
	default:
		// Entries are bounded by count only; per-entry TTLs apply as given.
		c.shared = memory.New(o.memorySize)
	}
	if err != nil {
		_ = c.closeRedis()
		return nil, fmt.Errorf("failed to initialize shared tier: %w", err)
	}

	var local cache.Store
	if cfg.EnableLocalCache {
		lc, err := limited.New(cfg.MaxLocalSize, cfg.DefaultExpiration, cfg.Logger)
		if err != nil {
			_ = c.closeRedis()
			return nil, fmt.Errorf("failed to initialize local tier: %w", err)
		}
		local = lc
	}

	c.manager = multi.New(cfg, local, c.shared)

	if o.registerer != nil {
		if err := o.registerer.Register(metrics.NewCacheCollector(cfg.Stats)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to register cache metrics: %w", err)
		}
		c.pricing = metrics.NewPricing(o.registerer)
	}

	return c, nil
}

// Get returns the bytes cached under key, calling loader on a full miss.
// Only loader errors are returned; a failing shared tier is a miss.
func (c *Cache) Get(ctx context.Context, key string, loader Loader, tags ...string) ([]byte, error) {
	return c.manager.Get(ctx, key, tags, loader)
}

// Fetch is Get for typed values encoded with the configured serializer.
func Fetch[T any](ctx context.Context, c *Cache, key string, loader func(ctx context.Context) (T, error), tags ...string) (T, error) {
	return multi.Load(ctx, c.manager, key, tags, loader)
}

// Set encodes value and writes it to both tiers. ttl <= 0 uses the policy.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := serialization.Marshal(c.cfg.Serialization.Encoder, value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.manager.Set(ctx, key, data, ttl, tags...)
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.manager.Delete(ctx, key)
}

// InvalidateTag drops every entry written under tag.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	return c.manager.InvalidateTag(ctx, tag)
}

// InvalidateTags drops every entry written under any of tags.
func (c *Cache) InvalidateTags(ctx context.Context, tags ...string) error {
	return c.manager.InvalidateTags(ctx, tags...)
}

// Clear empties both tiers and resets the statistics. With Redis this
// removes everything under the namespace, including entries other
// processes wrote.
func (c *Cache) Clear(ctx context.Context) error {
	return c.manager.Clear(ctx)
}

// Warm copies keys already present in the shared tier into the local tier.
func (c *Cache) Warm(ctx context.Context, keyList []string, tags ...string) int {
	return c.manager.Warm(ctx, keyList, tags)
}

// Statistics returns the hit and miss counters.
func (c *Cache) Statistics() Statistics {
	return c.manager.Statistics()
}

// ResetStatistics zeroes the counters.
func (c *Cache) ResetStatistics() {
	c.manager.ResetStatistics()
}

// NewPriceResolver returns a resolver that caches batches in c.
func (c *Cache) NewPriceResolver(source PriceSource) *PriceResolver {
	var opts []pricing.ResolverOption
	if c.pricing != nil {
		opts = append(opts, pricing.WithRecorder(c.pricing))
	}
	return pricing.NewResolver(c.cfg, c.manager, source, opts...)
}

// OpenPostgresSource connects to a PostgreSQL catalog.
func OpenPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	return catalog.Open(ctx, dsn)
}

// Close releases the local tier and a Redis connection created by New.
func (c *Cache) Close() error {
	c.logger.Info("Closing wishcache")

	var errs []error
	if c.manager != nil {
		if err := c.manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.closeRedis(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close Redis connection: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Cache) closeRedis() error {
	if c.ownedRedis == nil {
		return nil
	}
	err := c.ownedRedis.Close()
	c.ownedRedis = nil
	return err
}
