package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	HttpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served by the dev API",
		},
		[]string{"path", "method"},
	)

	HttpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests served by the dev API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	RemoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_calls_total",
			Help: "Total number of calls made by the API client",
		},
		[]string{"method", "status"},
	)

	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_call_duration_seconds",
			Help:    "Duration of calls made by the API client",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	UnauthorizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_unauthorized_total",
			Help: "Total number of 401 responses observed by the API client",
		},
	)

	CommentStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comment_streams_active",
			Help: "Number of open live comment websocket streams",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HttpRequestsTotal,
		HttpRequestDuration,
		ActiveConnections,
		RemoteCallsTotal,
		RemoteCallDuration,
		UnauthorizedTotal,
		CommentStreams,
	)
}
