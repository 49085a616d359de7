package observability

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const alertEvery = 10

// Observer records reconciliation and entitlement outcomes as metrics and
// log lines. A nil *Observer is a valid no-op.
type Observer struct {
	logger zerolog.Logger

	mu                  sync.Mutex
	outcomes            map[string]int64
	consecutiveFailures int64
}

func NewObserver(logger *zerolog.Logger) *Observer {
	if logger == nil {
		logger = &log.Logger
	}
	return &Observer{
		logger:   logger.With().Str("component", "observer").Logger(),
		outcomes: make(map[string]int64),
	}
}

// WebhookHandled records one delivery. kind is empty when the body was never parsed.
func (o *Observer) WebhookHandled(kind, outcome string, elapsed time.Duration) {
	if o == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	WebhookRequestsTotal.WithLabelValues(kind, outcome).Inc()
	WebhookDuration.WithLabelValues(kind).Observe(elapsed.Seconds())

	o.mu.Lock()
	o.outcomes[outcome]++
	if outcome != "store_failure" {
		o.consecutiveFailures = 0
	}
	o.mu.Unlock()
}

// StoreFailure logs a failed upsert and raises an alert line on every
// tenth failure in a row.
func (o *Observer) StoreFailure(userID string, err error) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.consecutiveFailures++
	count := o.consecutiveFailures
	o.mu.Unlock()

	o.logger.Error().Err(err).Str("user_id", userID).Int64("consecutive_failures", count).Msg("entitlement store failure")
	if count%alertEvery == 0 {
		o.logger.Error().Bool("alert", true).Int64("consecutive_failures", count).Msg("entitlement store failing repeatedly; provider retries are piling up")
	}
}

func (o *Observer) EntitlementChecked(entitled bool) {
	if o == nil {
		return
	}
	result := "not_entitled"
	if entitled {
		result = "entitled"
	}
	EntitlementChecksTotal.WithLabelValues(result).Inc()
}

func (o *Observer) FlagsCleared(n int) {
	if o == nil || n <= 0 {
		return
	}
	ReconcileFlagsCleared.Add(float64(n))
	o.logger.Info().Int("flags_cleared", n).Msg("reconcile cleared lapsed premium flags")
}

// Outcomes returns a copy of the per-outcome delivery counts.
func (o *Observer) Outcomes() map[string]int64 {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int64, len(o.outcomes))
	for k, v := range o.outcomes {
		out[k] = v
	}
	return out
}
