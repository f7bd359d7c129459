package wishcache_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"goflare.io/wishcache"
)

type list struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newCache(t *testing.T, opts ...wishcache.Option) *wishcache.Cache {
	t.Helper()
	opts = append([]wishcache.Option{wishcache.WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := wishcache.New(t.Context(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFetch_LoadsOnceThenHits(t *testing.T) {
	c := newCache(t)
	ctx := t.Context()

	calls := 0
	load := func(context.Context) (list, error) {
		calls++
		return list{ID: "42", Name: "Gifts"}, nil
	}

	got, err := wishcache.Fetch(ctx, c, wishcache.ListKey("42"), load, wishcache.ListTag("42"))
	require.NoError(t, err)
	assert.Equal(t, list{ID: "42", Name: "Gifts"}, got)
	assert.EqualValues(t, 1, c.Statistics().Misses)

	got, err = wishcache.Fetch(ctx, c, wishcache.ListKey("42"), load, wishcache.ListTag("42"))
	require.NoError(t, err)
	assert.Equal(t, "Gifts", got.Name)
	assert.EqualValues(t, 1, c.Statistics().Hits)
	assert.Equal(t, 1, calls)

	require.NoError(t, c.InvalidateTag(ctx, wishcache.ListTag("42")))
	_, err = wishcache.Fetch(ctx, c, wishcache.ListKey("42"), load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_SetGetDelete(t *testing.T) {
	c := newCache(t)
	ctx := t.Context()

	require.NoError(t, c.Set(ctx, wishcache.CustomerDefaultKey("7"), list{ID: "1"}, 0))

	got, err := wishcache.Fetch(ctx, c, wishcache.CustomerDefaultKey("7"), func(context.Context) (list, error) {
		return list{}, errors.New("loader must not run")
	})
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)

	require.NoError(t, c.Delete(ctx, wishcache.CustomerDefaultKey("7")))
	_, err = c.Get(ctx, wishcache.CustomerDefaultKey("7"), nil)
	assert.ErrorIs(t, err, wishcache.ErrMiss)

	assert.ErrorIs(t, c.Delete(ctx, ""), wishcache.ErrEmptyKey)
}

func TestCache_LoaderErrorIsReturned(t *testing.T) {
	c := newCache(t)
	errGone := errors.New("wishlist deleted")

	_, err := c.Get(t.Context(), wishcache.ListKey("1"), func(context.Context) ([]byte, error) {
		return nil, errGone
	})
	assert.ErrorIs(t, err, errGone)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := wishcache.New(t.Context(), wishcache.WithChunkSize(0))
	assert.Error(t, err)

	_, err = wishcache.New(t.Context(), wishcache.WithPolicy(wishcache.Policy{}))
	assert.ErrorIs(t, err, wishcache.ErrInvalidPolicy)

	_, err = wishcache.New(t.Context(), wishcache.WithRedis(nil))
	assert.Error(t, err)
}

func TestNew_UnreachableRedis(t *testing.T) {
	_, err := wishcache.New(t.Context(),
		wishcache.WithLogger(zaptest.NewLogger(t)),
		wishcache.WithRetry(1, time.Millisecond, time.Millisecond),
		wishcache.WithRedis(&redis.Options{Addr: "localhost:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1}),
	)
	assert.ErrorIs(t, err, wishcache.ErrStoreUnavailable)
}

type staticSource struct {
	rows []wishcache.PriceRow
}

func (s staticSource) QueryBatchPrices(_ context.Context, ids []string, _ wishcache.PricingContext) ([]wishcache.PriceRow, error) {
	var out []wishcache.PriceRow
	for _, r := range s.rows {
		if slices.Contains(ids, r.ProductID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s staticSource) QuerySinglePrice(context.Context, string, wishcache.PricingContext) (wishcache.PriceRow, bool, error) {
	return wishcache.PriceRow{}, false, errors.New("not used")
}

func TestPriceResolver_WithMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := newCache(t, wishcache.WithMetrics(reg))
	ctx := t.Context()

	src := staticSource{rows: []wishcache.PriceRow{
		{ID: "a", ProductID: "A", CurrencyID: "EUR", QuantityStart: 1, Gross: 12},
		{ID: "c", ProductID: "C", CurrencyID: "EUR", QuantityStart: 1, Gross: 30},
	}}
	r := c.NewPriceResolver(src)
	pc := wishcache.PricingContext{CurrencyID: "EUR", VersionID: "live"}

	got := r.ResolvePrices(ctx, []string{"A", "B", "C"}, pc)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "A")
	assert.Contains(t, got, "C")

	again := r.ResolvePrices(ctx, []string{"A", "B", "C"}, pc)
	assert.Equal(t, got, again)

	n, err := testutil.GatherAndCount(reg, "wishcache_pricing_chunks_total", "wishcache_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 1, c.Statistics().Hits)
}

func TestCache_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ns := "wishcache-test-" + time.Now().Format("150405.000000") + ":"
	c := newCache(t, wishcache.WithRedis(&redis.Options{Addr: addr}), wishcache.WithNamespace(ns))
	ctx := t.Context()
	t.Cleanup(func() { _ = c.Clear(context.Background()) })

	require.NoError(t, c.Set(ctx, wishcache.ListKey("r1"), list{ID: "r1"}, time.Minute, wishcache.ListTag("r1")))

	got, err := wishcache.Fetch(ctx, c, wishcache.ListKey("r1"), func(context.Context) (list, error) {
		return list{}, errors.New("loader must not run")
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	require.NoError(t, c.InvalidateTag(ctx, wishcache.ListTag("r1")))
	_, err = c.Get(ctx, wishcache.ListKey("r1"), nil)
	assert.ErrorIs(t, err, wishcache.ErrMiss)
}
