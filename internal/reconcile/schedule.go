package reconcile

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"premiumsync/internal/logging"
)

// Schedule runs the sweep on spec (standard cron syntax or descriptors such
// as "@hourly") until the returned cron is stopped. Overlapping runs are skipped.
func (s *Service) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	logger := logging.FromContext(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled reconcile sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
