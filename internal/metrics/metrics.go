// Package metrics provides Prometheus instrumentation for the realtime
// gateway. It exposes gauges for connection and presence counts, counters for
// message and notification throughput, and a histogram for moderation
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of distinct online users.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_online_users",
		Help: "Current number of distinct online users",
	})

	// MessagesTotal counts outbound messages by outcome: "delivered",
	// "rate_limited", "repeated".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_messages_total",
		Help: "Total number of messages processed by moderation outcome",
	}, []string{"outcome"})

	// NotificationsCreated counts notifications appended to user feeds.
	NotificationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_notifications_created_total",
		Help: "Total number of notifications created",
	})

	// NotificationFailures counts notification creations that failed and were
	// swallowed (the store being down must not block message delivery).
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_notification_failures_total",
		Help: "Total number of swallowed notification creation failures",
	})

	// ModerationLatency records how long the moderation pipeline takes.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_moderation_latency_seconds",
		Help:    "Moderation pipeline evaluation latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		NotificationsCreated,
		NotificationFailures,
		ModerationLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
