package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
		[]string{"room"},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of events written to WebSocket connections",
		},
		[]string{"room", "type"},
	)

	// History store metrics
	HistoryAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_appends_total",
			Help: "Total number of history appends by outcome",
		},
		[]string{"outcome"},
	)

	HistoryDegradedMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_degraded_mode",
			Help: "1 while history writes are landing in the in-process fallback log instead of Redis",
		},
	)

	HistoryReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_reconciled_messages_total",
			Help: "Total number of fallback-buffered messages replayed into Redis",
		},
	)

	// Broadcast bridge metrics
	BridgeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_published_total",
			Help: "Total number of events published to the broadcast exchange",
		},
		[]string{"channel"},
	)

	BridgeEventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_delivered_total",
			Help: "Total number of bridge events consumed and handed to the local hub",
		},
		[]string{"channel"},
	)
)
