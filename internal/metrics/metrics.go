// Package metrics exports cache and pricing counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"goflare.io/wishcache/internal/models"
)

const namespace = "wishcache"

// CacheCollector reads a manager's Stats at scrape time.
type CacheCollector struct {
	stats  *models.Stats
	hits   *prometheus.Desc
	misses *prometheus.Desc
	ratio  *prometheus.Desc
}

// NewCacheCollector returns a collector over stats.
func NewCacheCollector(stats *models.Stats) *CacheCollector {
	return &CacheCollector{
		stats: stats,
		hits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "hits_total"),
			"Cache lookups answered by either tier",
			nil, nil,
		),
		misses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "misses_total"),
			"Cache lookups that fell through to the loader",
			nil, nil,
		),
		ratio: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "hit_ratio"),
			"Hits divided by all lookups since the last reset",
			nil, nil,
		),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.ratio
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.ratio, prometheus.GaugeValue, s.HitRate)
}

// Pricing counts how price chunks were resolved. It satisfies
// pricing.Recorder.
type Pricing struct {
	chunks        *prometheus.CounterVec
	fallbackItems *prometheus.CounterVec
}

// NewPricing registers the pricing counters on reg.
func NewPricing(reg prometheus.Registerer) *Pricing {
	factory := promauto.With(reg)
	return &Pricing{
		chunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pricing",
				Name:      "chunks_total",
				Help:      "Price chunks resolved, by path",
			},
			[]string{"path"}, // path: cache, batch, fallback
		),
		fallbackItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pricing",
				Name:      "fallback_items_total",
				Help:      "Products handled by the per-item fallback, by outcome",
			},
			[]string{"result"}, // result: resolved, omitted
		),
	}
}

func (p *Pricing) ChunkResolved(path string) {
	p.chunks.WithLabelValues(path).Inc()
}

func (p *Pricing) FallbackItems(resolved, omitted int) {
	p.fallbackItems.WithLabelValues("resolved").Add(float64(resolved))
	p.fallbackItems.WithLabelValues("omitted").Add(float64(omitted))
}
