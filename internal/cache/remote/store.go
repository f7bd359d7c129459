// Package remote implements the shared cache tier on Redis.
package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/wishcache/internal/cache"
	"goflare.io/wishcache/internal/config"
	"goflare.io/wishcache/internal/retrier"
)

const (
	tagSegment = "tag:"
	scanCount  = 500
)

var (
	_ cache.Store          = (*Store)(nil)
	_ cache.TagInvalidator = (*Store)(nil)
)

// Store keeps values in Redis under a namespace. Tags are sorted sets of
// member keys scored by member expiry, so expired members can be pruned;
// the set's own expiry is stretched to outlive the longest member.
// Extending set expiry uses EXPIRE NX/GT and needs Redis 7 or newer.
//
// Every call runs through a retrier and a circuit breaker. Failures are
// returned wrapped in cache.ErrStoreUnavailable; deciding whether that is
// fatal is the caller's business.
type Store struct {
	client    redis.UniversalClient
	namespace string
	timeout   time.Duration
	retrier   *retrier.Retrier
	breaker   *gobreaker.CircuitBreaker
	filter    *KeyFilter
	logger    *zap.Logger
}

// New wraps client using the resilience and key filter settings of cfg.
func New(client redis.UniversalClient, cfg *config.Config) (*Store, error) {
	rc := cfg.ResilienceConfig
	r, err := retrier.NewRetrier(
		rc.MaxRetries,
		rc.InitialInterval,
		rc.MaxInterval,
		rc.Multiplier,
		rc.RandomizationFactor,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	s := &Store{
		client:    client,
		namespace: cfg.Namespace,
		timeout:   rc.OperationTimeout,
		retrier:   r,
		breaker:   gobreaker.NewCircuitBreaker(rc.CircuitBreaker),
		logger:    cfg.Logger,
	}
	if cfg.KeyFilterConfig.Enabled {
		s.filter = NewKeyFilter(cfg.KeyFilterConfig.ExpectedItems, cfg.KeyFilterConfig.FalsePositiveRate)
	}
	return s, nil
}

func (s *Store) key(k string) string    { return s.namespace + k }
func (s *Store) tagKey(t string) string { return s.namespace + tagSegment + t }

// execute runs fn through the breaker and the retrier. Each attempt gets its
// own timeout when one is configured.
func (s *Store) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.retrier.Run(ctx, func() error {
			if s.timeout <= 0 {
				return fn(ctx)
			}
			opCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			return fn(opCtx)
		})
	})
	if err != nil {
		return fmt.Errorf("%w: redis %s: %w", cache.ErrStoreUnavailable, op, err)
	}
	return nil
}

// GetItem reads key. redis.Nil is a miss, not an error.
func (s *Store) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if s.filter != nil && !s.filter.Test(key) {
		s.logger.Debug("Key filter negative, skipping redis read", zap.String("key", key))
		return nil, false, nil
	}

	var (
		data  []byte
		found bool
	)
	err := s.execute(ctx, "get", func(ctx context.Context) error {
		b, err := s.client.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		data, found = b, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, found, nil
}

// Save writes value and registers key in each tag set in one transaction.
// Members whose entry has expired are pruned from the tag sets on the way.
func (s *Store) Save(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	nk := s.key(key)
	now := time.Now()
	score := math.Inf(1)
	if ttl > 0 {
		score = float64(now.Add(ttl).UnixMilli())
	}
	expired := strconv.FormatInt(now.UnixMilli(), 10)

	err := s.execute(ctx, "save", func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, nk, value, ttl)
			for _, tag := range tags {
				tk := s.tagKey(tag)
				pipe.ZAdd(ctx, tk, redis.Z{Score: score, Member: nk})
				pipe.ZRemRangeByScore(ctx, tk, "-inf", expired)
				if ttl > 0 {
					pipe.ExpireNX(ctx, tk, ttl)
					pipe.ExpireGT(ctx, tk, ttl)
				} else {
					pipe.Persist(ctx, tk)
				}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}

	if s.filter != nil {
		s.filter.Add(key)
	}
	return nil
}

// DeleteItem removes key. Its tag set members stay until their expiry score
// passes and a later Save prunes them.
func (s *Store) DeleteItem(ctx context.Context, key string) error {
	return s.execute(ctx, "delete", func(ctx context.Context) error {
		return s.client.Del(ctx, s.key(key)).Err()
	})
}

// InvalidateTags deletes every member of the given tag sets and the sets
// themselves, and returns the removed keys without the namespace. Members
// are deleted in batches.
func (s *Store) InvalidateTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	tagKeys := make([]string, len(tags))
	for i, tag := range tags {
		tagKeys[i] = s.tagKey(tag)
	}

	var members []string
	if err := s.execute(ctx, "read tags", func(ctx context.Context) error {
		cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, tk := range tagKeys {
				pipe.ZRange(ctx, tk, 0, -1)
			}
			return nil
		})
		if err != nil {
			return err
		}
		members = members[:0]
		for _, cmd := range cmds {
			members = append(members, cmd.(*redis.StringSliceCmd).Val()...)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	slices.Sort(members)
	members = slices.Compact(members)

	for batch := range slices.Chunk(members, scanCount) {
		if err := s.execute(ctx, "bulk delete", func(ctx context.Context) error {
			return s.client.Del(ctx, batch...).Err()
		}); err != nil {
			return nil, err
		}
	}
	if err := s.execute(ctx, "delete tags", func(ctx context.Context) error {
		return s.client.Del(ctx, tagKeys...).Err()
	}); err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(members))
	for _, m := range members {
		removed = append(removed, strings.TrimPrefix(m, s.namespace))
	}
	return removed, nil
}

// Clear removes every key under the namespace, tag sets included. With an
// empty namespace it flushes the whole Redis database, which also drops data
// written by unrelated clients; never run that against a shared instance.
func (s *Store) Clear(ctx context.Context) error {
	if s.namespace == "" {
		s.logger.Warn("Flushing entire redis database: cache namespace is empty")
		if err := s.execute(ctx, "flushdb", func(ctx context.Context) error {
			return s.client.FlushDB(ctx).Err()
		}); err != nil {
			return err
		}
	} else if err := s.scanAndDelete(ctx, s.namespace); err != nil {
		return err
	}

	if s.filter != nil {
		s.filter.Reset()
	}
	return nil
}

func (s *Store) scanAndDelete(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		var (
			keys []string
			next uint64
		)
		if err := s.execute(ctx, "scan", func(ctx context.Context) error {
			var err error
			keys, next, err = s.client.Scan(ctx, cursor, prefix+"*", scanCount).Result()
			return err
		}); err != nil {
			return err
		}

		if len(keys) > 0 {
			if err := s.execute(ctx, "bulk delete", func(ctx context.Context) error {
				return s.client.Del(ctx, keys...).Err()
			}); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.execute(ctx, "ping", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

