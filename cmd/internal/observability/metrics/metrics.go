// Package metrics defines the Prometheus collectors for the CipherTalk core.
// Collectors are package-level and registered once at startup via MustRegister.
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

	MessagesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_stored_total",
			Help: "Total number of messages accepted by the message log.",
		},
	)

	FanoutSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_subscribers",
			Help: "Currently registered fanout subscribers.",
		},
	)

	FanoutPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_pushes_total",
			Help: "Best-effort push deliveries, by result.",
		},
		[]string{"result"}, // delivered | dropped
	)

	FanoutPollEmitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_poll_emits_total",
			Help: "Messages emitted by the per-subscriber poll fallback.",
		},
	)

	UnlockTokensMintedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unlock_tokens_minted_total",
			Help: "Unlock tokens minted after a solved puzzle.",
		},
	)

	UnlockTokenVerifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unlock_token_verify_total",
			Help: "Unlock token verification attempts, by result.",
		},
		[]string{"result"}, // ok | denied | rate_limited
	)
)

// MustRegister registers all collectors with the default registry.
// Call exactly once from app wiring.
func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		MessagesStoredTotal,
		FanoutSubscribers,
		FanoutPushesTotal,
		FanoutPollEmitsTotal,
		UnlockTokensMintedTotal,
		UnlockTokenVerifyTotal,
	)
}
