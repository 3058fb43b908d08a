// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationLoadsTotal tracks conversation repository loads.
	ConversationLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_conversation_loads_total",
			Help: "Total conversation repository loads",
		},
		[]string{"result"},
	)

	// ConversationLoadDuration tracks conversation load latency.
	ConversationLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_conversation_load_duration_seconds",
			Help:    "Conversation repository load duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// MessagePagesTotal tracks message page fetches.
	MessagePagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_message_pages_total",
			Help: "Total message page fetches",
		},
		[]string{"result"},
	)

	// MessagesSentTotal tracks messages sent by operators.
	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_messages_sent_total",
			Help: "Total messages sent by operators",
		},
	)

	// MessagesMarkedReadTotal tracks messages transitioned to read.
	MessagesMarkedReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_messages_marked_read_total",
			Help: "Total messages marked read",
		},
	)

	// RealtimeEventsTotal tracks change-feed events by the reconciler's
	// decision for each one.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_realtime_events_total",
			Help: "Total realtime change events processed",
		},
		[]string{"table", "type", "decision"},
	)

	// ResubscribesTotal tracks change-feed resubscription attempts.
	ResubscribesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_resubscribes_total",
			Help: "Total change-feed resubscription attempts",
		},
		[]string{"table"},
	)

	// SubscriptionsActive tracks open change-feed subscriptions.
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_subscriptions_active",
			Help: "Number of open change-feed subscriptions",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// InboxSessionsActive tracks live per-operator inbox sessions.
	InboxSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_sessions_active",
			Help: "Number of live operator inbox sessions",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordConversationLoad records a conversation repository load.
func RecordConversationLoad(result string, duration float64) {
	ConversationLoadsTotal.WithLabelValues(result).Inc()
	ConversationLoadDuration.Observe(duration)
}

// RecordRealtimeEvent records a reconciler decision for a change event.
func RecordRealtimeEvent(table, eventType, decision string) {
	RealtimeEventsTotal.WithLabelValues(table, eventType, decision).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
