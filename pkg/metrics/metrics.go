// Package metrics exposes meetbotd's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MeetingsRequestedTotal counts RequestBot calls by platform.
	MeetingsRequestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetbotd_meetings_requested_total",
		Help: "Total number of bot join requests, by platform.",
	}, []string{"platform"})

	// MeetingsTerminatedTotal counts terminal transitions by status and
	// completion_reason/failure_stage.
	MeetingsTerminatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetbotd_meetings_terminated_total",
		Help: "Total number of meetings reaching a terminal status.",
	}, []string{"status", "reason"})

	// MeetingsActive tracks the current count of non-terminal meetings.
	MeetingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meetbotd_meetings_active",
		Help: "Current number of meetings in a non-terminal status.",
	})

	// AllocatorWorkerLoad tracks per-worker load as last observed by C3.
	AllocatorWorkerLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meetbotd_allocator_worker_load",
		Help: "Current load of each registered worker, per the allocator's coordination store.",
	}, []string{"worker_url"})

	// WebSocketConnections tracks currently open subscriber connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meetbotd_websocket_connections",
		Help: "Current number of open WebSocket subscriber connections.",
	})

	// EventQueueDrops counts dropped outbound events due to a full
	// per-connection queue (Q_max), per spec.md §4.5's drop-oldest policy.
	EventQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetbotd_event_queue_drops_total",
		Help: "Total number of outbound events dropped because a subscriber's queue was full.",
	})

	// WatchdogRecoveries counts meetings failed by the container watchdog.
	WatchdogRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetbotd_watchdog_recoveries_total",
		Help: "Total number of meetings failed by the container watchdog due to a vanished container.",
	})

	// WebhookDeliveries counts outbound webhook attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetbotd_webhook_deliveries_total",
		Help: "Total number of outbound webhook delivery attempts, by outcome.",
	}, []string{"outcome"})
)
