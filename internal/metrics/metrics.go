package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP API metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jishobot_http_requests_total",
		Help: "Total HTTP requests by route, method, and status code",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jishobot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route", "method"})

	RateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jishobot_rate_limit_hits_total",
		Help: "Total rate limit rejections by source",
	}, []string{"source"})
)

// Conversion and lookup metrics.
var (
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jishobot_conversions_total",
		Help: "Romaji to kana conversions by result (ok, unsupported, unresolved)",
	}, []string{"result"})

	LookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jishobot_lookups_total",
		Help: "Dictionary lookups by result (found, not_found, error)",
	}, []string{"result"})

	LookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jishobot_lookup_duration_seconds",
		Help:    "Dictionary lookup duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jishobot_cache_requests_total",
		Help: "Lookup cache requests by result (hit, miss, error)",
	}, []string{"result"})
)

// Bot metrics.
var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jishobot_commands_total",
		Help: "Lookup commands handled by source (slash, prefix, dm, mention)",
	}, []string{"source"})

	TrackedChats = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jishobot_tracked_chats",
		Help: "Number of tracked chats by kind",
	}, []string{"kind"})
)

// Database pool metrics (gauges updated periodically).
var (
	DBPoolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jishobot_db_pool_total_conns",
		Help: "Total number of connections in the pool",
	})

	DBPoolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jishobot_db_pool_idle_conns",
		Help: "Number of idle connections in the pool",
	})

	DBPoolAcquiredConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jishobot_db_pool_acquired_conns",
		Help: "Number of acquired connections in the pool",
	})

	DBPoolMaxConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jishobot_db_pool_max_conns",
		Help: "Max connections configured for the pool",
	})
)

// Import metrics.
var (
	EntriesImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jishobot_entries_imported_total",
		Help: "Dictionary entries written by the importer",
	})
)
