package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/wishcache/internal/models"
)

func TestCacheCollector(t *testing.T) {
	stats := models.NewStats()
	stats.Hit()
	stats.Hit()
	stats.Hit()
	stats.Miss()

	expected := `
# HELP wishcache_cache_hit_ratio Hits divided by all lookups since the last reset
# TYPE wishcache_cache_hit_ratio gauge
wishcache_cache_hit_ratio 0.75
# HELP wishcache_cache_hits_total Cache lookups answered by either tier
# TYPE wishcache_cache_hits_total counter
wishcache_cache_hits_total 3
# HELP wishcache_cache_misses_total Cache lookups that fell through to the loader
# TYPE wishcache_cache_misses_total counter
wishcache_cache_misses_total 1
`
	require.NoError(t, testutil.CollectAndCompare(NewCacheCollector(stats), strings.NewReader(expected)))
}

func TestCacheCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCacheCollector(models.NewStats()))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestPricing(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	p := NewPricing(reg)

	p.ChunkResolved("cache")
	p.ChunkResolved("cache")
	p.ChunkResolved("fallback")
	p.FallbackItems(3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.chunks.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.chunks.WithLabelValues("fallback")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.fallbackItems.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.fallbackItems.WithLabelValues("omitted")))

	n, err := testutil.GatherAndCount(reg, "wishcache_pricing_chunks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
