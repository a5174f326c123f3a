// Package metrics registers the Prometheus instruments for the sync
// core. Counters are package-level and safe for concurrent use; the
// /metrics endpoint is served with promhttp by the embedding binary.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ThreadEventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcore_thread_events_applied_total",
		Help: "Thread events folded into thread stores, by event type.",
	}, []string{"type"})

	InboxEventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcore_inbox_events_applied_total",
		Help: "Inbox events folded into the inbox store, by event type.",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcore_events_dropped_total",
		Help: "Envelopes discarded before reaching a store, by reason.",
	}, []string{"reason"})

	OptimisticSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcore_optimistic_sends_total",
		Help: "Optimistic message sends, by outcome.",
	}, []string{"outcome"})

	NotificationsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msgcore_notifications_enqueued_total",
		Help: "Notifications accepted by the queue, merges included.",
	})

	ModerationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcore_moderation_decisions_total",
		Help: "Moderation decisions submitted, by mapped outcome.",
	}, []string{"outcome"})

	UploadTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcore_upload_transitions_total",
		Help: "Upload status transitions, by resulting status.",
	}, []string{"status"})

	ListenerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msgcore_listener_panics_total",
		Help: "Panics recovered from state-change listeners.",
	})

	StartDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcore_conversation_start_denials_total",
		Help: "Denied conversation starts, by denial code.",
	}, []string{"code"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
