// Package metrics holds the Prometheus collectors of the service
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prizewheel_sessions_started_total",
		Help: "Wheel sessions admitted, by merchant",
	}, []string{"merchant_id"})

	SessionsDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prizewheel_sessions_denied_total",
		Help: "Wheel session requests refused, by reason",
	}, []string{"reason"})

	SpinsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prizewheel_spins_resolved_total",
		Help: "Resolved spins, by outcome type",
	}, []string{"outcome"})

	SaveFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prizewheel_save_failures_total",
		Help: "Spin or coupon writes that failed, by record kind",
	}, []string{"kind"})

	NotificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prizewheel_notification_failures_total",
		Help: "Notification deliveries that failed, by sink",
	}, []string{"sink"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prizewheel_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Init registers all collectors with the default registry
func Init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsDenied,
		SpinsResolved,
		SaveFailures,
		NotificationFailures,
		HTTPDuration,
	)
}
