package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks live pairing sessions in the registry.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwire_active_sessions",
			Help: "Number of live pairing sessions",
		},
	)

	// ConnectedClients tracks open event-channel connections.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwire_connected_clients",
			Help: "Number of connected event-channel clients",
		},
	)

	// MessagesRelayed counts relayed messages by type (text|file).
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwire_messages_total",
			Help: "Total messages relayed through sessions",
		},
		[]string{"type"},
	)

	// Uploads counts upload finalizations by result (completed|failed|cancelled|expired).
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwire_uploads_total",
			Help: "Total upload outcomes",
		},
		[]string{"result"},
	)

	// StoredBytes accumulates bytes written into session storage.
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropwire_stored_bytes_total",
			Help: "Total bytes written into session storage",
		},
	)

	// SessionsExpired counts sessions removed by the cleanup paths.
	SessionsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwire_sessions_expired_total",
			Help: "Sessions removed by timers or the sweeper",
		},
		[]string{"reason"},
	)

	// ResponseBytes accumulates bytes written in HTTP responses, download
	// streams included.
	ResponseBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropwire_http_response_bytes_total",
			Help: "Total bytes written in HTTP responses",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropwire_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
