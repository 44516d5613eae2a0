package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics shared by every named cache.
type Metrics struct {
	HitsTotal        *prometheus.CounterVec
	MissesTotal      *prometheus.CounterVec
	EvictionsTotal   *prometheus.CounterVec
	ExpirationsTotal *prometheus.CounterVec
	Size             *prometheus.GaugeVec
}

// NewMetrics returns the process-wide cache metrics, registering them with
// the default registry on first use.
//
// Metrics:
//   - ctxgraph_cache_hits_total{cache}
//   - ctxgraph_cache_misses_total{cache}
//   - ctxgraph_cache_evictions_total{cache} - entries dropped for capacity
//   - ctxgraph_cache_expirations_total{cache} - entries dropped for TTL
//   - ctxgraph_cache_size{cache}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			HitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxgraph_cache_hits_total",
					Help: "Total number of cache hits",
				},
				[]string{"cache"}, // "results", "embeddings"
			),
			MissesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxgraph_cache_misses_total",
					Help: "Total number of cache misses, including expired entries",
				},
				[]string{"cache"},
			),
			EvictionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxgraph_cache_evictions_total",
					Help: "Total number of entries evicted to make room",
				},
				[]string{"cache"},
			),
			ExpirationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxgraph_cache_expirations_total",
					Help: "Total number of entries removed after their TTL elapsed",
				},
				[]string{"cache"},
			),
			Size: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "ctxgraph_cache_size",
					Help: "Current number of entries in the cache",
				},
				[]string{"cache"},
			),
		}
	})

	return globalMetrics
}

// RecordHit records a cache hit.
func (m *Metrics) RecordHit(cache string) {
	m.HitsTotal.WithLabelValues(cache).Inc()
}

// RecordMiss records a cache miss.
func (m *Metrics) RecordMiss(cache string) {
	m.MissesTotal.WithLabelValues(cache).Inc()
}

// RecordEvicted records n capacity evictions.
func (m *Metrics) RecordEvicted(cache string, n int) {
	m.EvictionsTotal.WithLabelValues(cache).Add(float64(n))
}

// RecordExpired records n TTL expirations.
func (m *Metrics) RecordExpired(cache string, n int) {
	m.ExpirationsTotal.WithLabelValues(cache).Add(float64(n))
}

// SetSize updates the size gauge.
func (m *Metrics) SetSize(cache string, size int) {
	m.Size.WithLabelValues(cache).Set(float64(size))
}
