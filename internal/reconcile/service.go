package reconcile

import (
	"context"
	"time"

	"premiumsync/internal/logging"
	"premiumsync/internal/observability"
)

type Store interface {
	ClearLapsedEntitlements(ctx context.Context, now time.Time) (int, error)
	CountFailedWebhookEvents(ctx context.Context, receivedBefore time.Time) (int, error)
}

type Service struct {
	Store    Store
	Observer *observability.Observer
	Now      func() time.Time

	// FailedEventAge is how long a delivery may sit in the failed state
	// before it counts as stuck.
	FailedEventAge time.Duration
}

type Report struct {
	FlagsCleared  int
	StuckFailures int
}

func NewService(st Store, observer *observability.Observer, failedEventAge time.Duration) *Service {
	return &Service{
		Store:          st,
		Observer:       observer,
		Now:            func() time.Time { return time.Now().UTC() },
		FailedEventAge: failedEventAge,
	}
}

// Run clears premium flags whose expiry has passed and reports deliveries
// the provider has stopped retrying successfully.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report
	if s == nil || s.Store == nil {
		return report, nil
	}
	logger := logging.FromContext(ctx)
	now := s.Now()

	cleared, err := s.Store.ClearLapsedEntitlements(ctx, now)
	if err != nil {
		return report, err
	}
	report.FlagsCleared = cleared
	s.Observer.FlagsCleared(cleared)

	age := s.FailedEventAge
	if age <= 0 {
		age = time.Hour
	}
	stuck, err := s.Store.CountFailedWebhookEvents(ctx, now.Add(-age))
	if err != nil {
		return report, err
	}
	report.StuckFailures = stuck
	if stuck > 0 {
		logger.Error().Bool("alert", true).Int("stuck_failures", stuck).Dur("older_than", age).Msg("billing webhooks stuck in failed state")
	}

	logger.Info().Int("flags_cleared", report.FlagsCleared).Int("stuck_failures", report.StuckFailures).Msg("reconcile sweep finished")
	return report, nil
}
