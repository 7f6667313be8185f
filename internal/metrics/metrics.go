// Package metrics exposes Prometheus collectors for the rate cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RateMetrics holds the collectors updated by the rate cache.
// A nil *RateMetrics is valid and records nothing.
type RateMetrics struct {
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	Fallbacks     *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
}

// NewRateMetrics creates the collectors and registers them on reg.
func NewRateMetrics(reg prometheus.Registerer) *RateMetrics {
	factory := promauto.With(reg)
	return &RateMetrics{
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_cache_hits_total",
				Help: "Rate lookups served from a fresh cached snapshot",
			},
			[]string{"base"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_cache_misses_total",
				Help: "Rate lookups that required an upstream fetch",
			},
			[]string{"base"},
		),
		Fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_cache_stale_fallbacks_total",
				Help: "Rate lookups answered with a stale snapshot after a failed fetch",
			},
			[]string{"base"},
		),
		FetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_fetch_errors_total",
				Help: "Failed upstream rate fetches",
			},
			[]string{"base"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rates_fetch_duration_seconds",
				Help:    "Upstream rate fetch latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"base"},
		),
	}
}

// Hit records a cache hit.
func (m *RateMetrics) Hit(base string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(base).Inc()
}

// Miss records a cache miss.
func (m *RateMetrics) Miss(base string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(base).Inc()
}

// Fallback records a stale fallback.
func (m *RateMetrics) Fallback(base string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(base).Inc()
}

// Fetch records the outcome and latency of one upstream fetch.
func (m *RateMetrics) Fetch(base string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(base).Observe(took.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(base).Inc()
	}
}
