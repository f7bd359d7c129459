package remote

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"goflare.io/wishcache/internal/cache"
	"goflare.io/wishcache/internal/config"
)

func newTestConfig(t *testing.T, opts ...config.Option) *config.Config {
	t.Helper()
	base := []config.Option{
		config.WithLogger(zaptest.NewLogger(t)),
		config.WithNamespace("wishcache-test:" + t.Name() + ":"),
		config.WithRetry(1, time.Millisecond, time.Millisecond),
	}
	cfg, err := config.NewConfig(append(base, opts...)...)
	require.NoError(t, err)
	return cfg
}

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func redisStore(t *testing.T, opts ...config.Option) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	s, err := New(client, newTestConfig(t, opts...))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = client.Close()
	})
	require.NoError(t, s.Ping(t.Context()), "cannot reach Redis at %s", addr)
	return s
}

func TestStore_UnreachableIsStoreUnavailable(t *testing.T) {
	s, err := New(unreachableClient(t), newTestConfig(t))
	require.NoError(t, err)
	ctx := t.Context()

	_, ok, err := s.GetItem(ctx, "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, cache.ErrStoreUnavailable)

	err = s.Save(ctx, "k", []byte("v"), time.Minute, []string{"t"})
	assert.ErrorIs(t, err, cache.ErrStoreUnavailable)

	assert.ErrorIs(t, s.DeleteItem(ctx, "k"), cache.ErrStoreUnavailable)
	_, err = s.InvalidateTags(ctx, []string{"t"})
	assert.ErrorIs(t, err, cache.ErrStoreUnavailable)
	removed, err := s.InvalidateTags(ctx, nil)
	assert.NoError(t, err)
	assert.Empty(t, removed)
}

func TestStore_BreakerOpens(t *testing.T) {
	cfg := newTestConfig(t, config.WithCircuitBreaker(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	}))
	s, err := New(unreachableClient(t), cfg)
	require.NoError(t, err)

	_, _, err = s.GetItem(t.Context(), "k")
	require.ErrorIs(t, err, cache.ErrStoreUnavailable)

	_, _, err = s.GetItem(t.Context(), "k")
	assert.ErrorIs(t, err, cache.ErrStoreUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestStore_KeyFilterSkipsUnknownKeys(t *testing.T) {
	cfg := newTestConfig(t, config.WithKeyFilter(1000, 0.001))
	s, err := New(unreachableClient(t), cfg)
	require.NoError(t, err)

	// Never written through this store, so Redis is not consulted.
	_, ok, err := s.GetItem(t.Context(), "never-written")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyFilter(t *testing.T) {
	f := NewKeyFilter(100, 0.001)
	assert.False(t, f.Test("a"))
	f.Add("a")
	assert.True(t, f.Test("a"))
	f.Reset()
	assert.False(t, f.Test("a"))
}

func TestStore_Redis_SaveGetDelete(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()

	_, ok, err := s.GetItem(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "k1", []byte("v1"), 10*time.Second, nil))
	got, ok, err := s.GetItem(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.DeleteItem(ctx, "k1"))
	_, ok, err = s.GetItem(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Redis_TTLExpiry(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()

	require.NoError(t, s.Save(ctx, "exp", []byte("v"), time.Second, nil))
	time.Sleep(1500 * time.Millisecond)

	_, ok, err := s.GetItem(ctx, "exp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Redis_InvalidateTags(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()

	require.NoError(t, s.Save(ctx, "a", []byte("1"), time.Minute, []string{"list-1"}))
	require.NoError(t, s.Save(ctx, "b", []byte("2"), time.Minute, []string{"list-1", "prices"}))
	require.NoError(t, s.Save(ctx, "c", []byte("3"), time.Minute, []string{"list-2"}))

	removed, err := s.InvalidateTags(ctx, []string{"list-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, removed)

	for key, want := range map[string]bool{"a": false, "b": false, "c": true} {
		_, ok, err := s.GetItem(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, ok, key)
	}
}

func TestStore_Redis_TagSetDropsExpiredMembers(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()
	tk := s.tagKey("prices")

	require.NoError(t, s.Save(ctx, "old", []byte("1"), time.Second, []string{"prices"}))
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, s.Save(ctx, "new", []byte("2"), time.Minute, []string{"prices"}))

	members, err := s.client.ZRange(ctx, tk, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{s.key("new")}, members)

	ttl, err := s.client.TTL(ctx, tk).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestStore_Redis_InvalidateLargeTag(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()

	n := scanCount*2 + 7
	for i := range n {
		require.NoError(t, s.Save(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute, []string{"big"}))
	}

	removed, err := s.InvalidateTags(ctx, []string{"big"})
	require.NoError(t, err)
	assert.Len(t, removed, n)

	left, err := s.client.Exists(ctx, s.key("k0"), s.key(fmt.Sprintf("k%d", n-1)), s.tagKey("big")).Result()
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestStore_Redis_ClearIsNamespaced(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()

	outside := "wishcache-test-outside:" + t.Name()
	require.NoError(t, s.client.Set(ctx, outside, "keep", time.Minute).Err())
	t.Cleanup(func() { s.client.Del(context.Background(), outside) })

	require.NoError(t, s.Save(ctx, "a", []byte("1"), time.Minute, []string{"t"}))
	require.NoError(t, s.Clear(ctx))

	_, ok, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := s.client.Get(ctx, outside).Result()
	require.NoError(t, err)
	assert.Equal(t, "keep", val)
}
