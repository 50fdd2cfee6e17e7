package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	InvitesGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invites_generated_total",
			Help: "Total number of invite codes generated.",
		},
	)

	PairJoinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pair_joins_total",
			Help: "Total number of invite code redemptions by result.",
		},
		[]string{"result"},
	)

	PhotoUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_uploads_total",
			Help: "Total number of photo uploads by result.",
		},
		[]string{"result"},
	)

	TxRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_tx_retries_total",
			Help: "Total number of document transactions retried after a conflict.",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of partner notifications by result.",
		},
		[]string{"result"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of live websocket sessions.",
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		InvitesGeneratedTotal,
		PairJoinsTotal,
		PhotoUploadsTotal,
		TxRetriesTotal,
		NotificationsTotal,
		SessionsActive,
	)
}

// Result labels an outcome as ok or error
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
