package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signaling metrics
var (
	SignalsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signals_published_total",
		Help: "Total number of call signals published to the signal channel",
	}, []string{"type"})

	SignalsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signals_dropped_total",
		Help: "Total number of inbound call signals dropped",
	}, []string{"reason"}) // malformed, unknown_type, slow_consumer

	SignalsArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_signals_archived_total",
		Help: "Total number of call signals archived for audit",
	})
)

// Call lifecycle metrics
var (
	CallsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calls_started_total",
		Help: "Total number of call sessions created",
	})

	CallsConnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calls_connected_total",
		Help: "Total number of call sessions that reached CONNECTED",
	})

	CallsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_ended_total",
		Help: "Total number of call sessions ended, by reason",
	}, []string{"reason"}) // ended, declined, missed, canceled

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Histogram of connected call durations in seconds",
		Buckets: []float64{15, 30, 60, 120, 300, 600, 1800, 3600},
	})
)

// Transport metrics
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_ws_connections_active",
		Help: "Number of active signaling WebSocket connections",
	})

	WSConnectionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_ws_connections_rejected_total",
		Help: "Total number of signaling WebSocket connections rejected at capacity",
	})

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Histogram of HTTP request durations in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

// Push metrics
var (
	PushSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_notifications_sent_total",
		Help: "Total number of push notifications sent successfully",
	})

	PushFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_notifications_failed_total",
		Help: "Total number of push notification send failures",
	})
)
