// Package metrics holds the process-wide prometheus counters for the streaming core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assetwatch_ticks_total", Help: "Ticks ingested per asset"},
		[]string{"asset"},
	)
	MalformedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assetwatch_malformed_messages_total", Help: "Inbound payloads dropped as malformed"},
		[]string{"source", "asset"},
	)
	DroppedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assetwatch_dropped_ticks_total", Help: "Ticks evicted from full consumer queues"},
		[]string{"asset"},
	)
	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assetwatch_reconnects_total", Help: "Reconnect attempts scheduled per asset"},
		[]string{"asset"},
	)
	TriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assetwatch_triggers_total", Help: "Alert rules fired"},
		[]string{"asset", "comparison"},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assetwatch_notification_failures_total", Help: "Notification channel failures (swallowed)"},
		[]string{"channel"},
	)
	DroppedNotifications = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "assetwatch_dropped_notifications_total", Help: "Trigger events evicted from full notification queues"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		MalformedMessages,
		DroppedTicks,
		Reconnects,
		TriggersTotal,
		NotificationFailures,
		DroppedNotifications,
	)
}

// Serve exposes /metrics on addr. Only the host binary calls this; the core never listens.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
