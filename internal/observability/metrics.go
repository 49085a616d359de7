package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts webhook deliveries by event kind and outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "premiumsync",
		Name:      "webhook_requests_total",
		Help:      "Total billing webhook deliveries by event kind and outcome.",
	}, []string{"kind", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "premiumsync",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	EntitlementChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "premiumsync",
		Name:      "entitlement_checks_total",
		Help:      "Entitlement reads by result (entitled/not_entitled).",
	}, []string{"result"})

	ReconcileFlagsCleared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "premiumsync",
		Name:      "reconcile_flags_cleared_total",
		Help:      "Premium flags cleared by the reconcile sweep because the expiry had passed.",
	})
)
