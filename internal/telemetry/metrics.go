// Package telemetry provides observability primitives for depot.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/cache"
)

// Metrics holds all Prometheus collectors for depot.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  *prometheus.CounterVec
	FetchTotal      *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depot",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests, by cache outcome.",
		}, []string{"method", "path", "status", "cache"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "depot",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "depot",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depot",
			Name:      "cache_hits_total",
			Help:      "Lookups served from a fresh entry.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depot",
			Name:      "cache_misses_total",
			Help:      "Lookups that started or joined an upstream fetch.",
		}),

		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depot",
			Name:      "cache_evictions_total",
			Help:      "Entries dropped by the store, by reason.",
		}, []string{"reason"}),

		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depot",
			Name:      "fetch_total",
			Help:      "Terminal upstream fetch outcomes.",
		}, []string{"name", "outcome"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "depot",
			Name:                            "fetch_duration_seconds",
			Help:                            "Upstream fetch duration in seconds, retries included.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.FetchTotal,
		m.FetchDuration,
	)

	return m
}

// RegisterStatsGauges exposes the point-in-time parts of stats as gauges
// that are evaluated at scrape time.
func RegisterStatsGauges(reg prometheus.Registerer, stats func() depot.Stats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "depot",
			Name:      "cache_entries",
			Help:      "Entries currently stored, stale ones included.",
		}, func() float64 { return float64(stats().CacheSize) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "depot",
			Name:      "inflight_fetches",
			Help:      "Upstream fetches currently pending.",
		}, func() float64 { return float64(stats().LoadingRequests) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "depot",
			Name:      "shared_waiters",
			Help:      "Callers waiting on a fetch started by another caller.",
		}, func() float64 { return float64(stats().SharedWaiters) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "depot",
			Name:      "auto_refreshers",
			Help:      "Sources with an active auto refresh schedule.",
		}, func() float64 { return float64(stats().ActiveRefreshers) }),
	)
}

// Listener turns data cache events into fetch metrics. It satisfies
// notify.Listener.
type Listener struct {
	M *Metrics
}

// OnEvent records the outcome and duration of one fetch.
func (l Listener) OnEvent(_ context.Context, ev depot.Event) {
	outcome := "success"
	if ev.Kind == depot.DataError {
		outcome = "error"
	}
	l.M.FetchTotal.WithLabelValues(ev.Name, outcome).Inc()
	l.M.FetchDuration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
}

// EvictHook returns a store eviction callback that counts evictions by reason.
func (m *Metrics) EvictHook() func(key string, reason cache.EvictReason) {
	return func(_ string, reason cache.EvictReason) {
		m.CacheEvictions.WithLabelValues(string(reason)).Inc()
	}
}
