// Package metrics provides Prometheus instrumentation for parley: typing and
// presence write outcomes, snapshot deliveries, open chat views and sent
// messages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TypingWrites counts typing record writes by intent ("true"/"false")
	// and result ("ok"/"error").
	TypingWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_typing_writes_total",
		Help: "Typing indicator writes by intent and result",
	}, []string{"typing", "result"})

	// PresenceWrites counts presence record writes by state ("online"/"offline") and result.
	PresenceWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_presence_writes_total",
		Help: "Presence writes by state and result",
	}, []string{"state", "result"})

	// Snapshots counts snapshot deliveries per collection.
	Snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_snapshots_total",
		Help: "Live snapshots delivered to subscribers",
	}, []string{"collection"})

	// SubscriptionFailures counts subscriptions that could not be opened or were lost.
	SubscriptionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_subscription_failures_total",
		Help: "Subscriptions that failed and fell back to an empty snapshot",
	}, []string{"collection"})

	// ActiveViews tracks the number of mounted chat views.
	ActiveViews = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_active_views",
		Help: "Current number of mounted chat views",
	})

	// MessagesSent counts messages by result.
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_sent_total",
		Help: "Messages sent by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		TypingWrites,
		PresenceWrites,
		Snapshots,
		SubscriptionFailures,
		ActiveViews,
		MessagesSent,
	)
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
