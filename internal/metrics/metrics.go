package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "playerhub",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "cache_hits_total",
		Help:      "Read requests served entirely from the range store.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "cache_misses_total",
		Help:      "Read requests that needed the network.",
	})

	FetchStartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "fetch_starts_total",
		Help:      "Network fetches started by reason.",
	}, []string{"reason"})

	FetchBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "fetch_bytes_total",
		Help:      "Bytes received from origins.",
	})

	FetchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "fetch_failures_total",
		Help:      "Network fetches that ended in failure.",
	})

	ActiveReadRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playerhub",
		Name:      "active_read_requests",
		Help:      "Read requests currently tracked across all sources.",
	})

	LiveLoaders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playerhub",
		Name:      "live_loaders",
		Help:      "Sources with a live cache loader.",
	})

	CacheResidentBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playerhub",
		Name:      "cache_resident_bytes",
		Help:      "Bytes resident in the range stores of live loaders.",
	})

	CachePrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "cache_pruned_sources_total",
		Help:      "Cached sources deleted to relieve low disk space.",
	})

	PlayerTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playerhub",
		Name:      "player_transitions_total",
		Help:      "Playback status transitions by from and to status.",
	}, []string{"from", "to"})

	WSClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playerhub",
		Name:      "ws_clients_connected",
		Help:      "Connected WebSocket clients.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		FetchStartsTotal,
		FetchBytesTotal,
		FetchFailuresTotal,
		ActiveReadRequests,
		LiveLoaders,
		CacheResidentBytes,
		CachePrunedTotal,
		PlayerTransitionsTotal,
		WSClientsConnected,
	)
}
