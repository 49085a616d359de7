package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InsertWebhookEventIfAbsent records a delivery keyed by (provider, external id).
// When the row already exists it reports the stored status instead.
func (s *Store) InsertWebhookEventIfAbsent(ctx context.Context, ev WebhookEvent) (bool, string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = WebhookStatusReceived
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO webhook_events (id, provider, external_event_id, event_name, user_id, payload_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, external_event_id) DO NOTHING`,
		ev.ID, ev.Provider, ev.ExternalEventID, ev.EventName, ev.UserID, ev.PayloadHash, ev.Status)
	if err != nil {
		return false, "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if n == 1 {
		return true, ev.Status, nil
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM webhook_events WHERE provider = $1 AND external_event_id = $2`,
		ev.Provider, ev.ExternalEventID).Scan(&status); err != nil {
		return false, "", err
	}
	return false, status, nil
}

func (s *Store) UpdateWebhookEventStatus(ctx context.Context, provider, externalEventID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_events
		SET status = $3, error = $4,
			processed_at = CASE WHEN $3 IN ('processed', 'ignored') THEN now() ELSE processed_at END
		WHERE provider = $1 AND external_event_id = $2`,
		provider, externalEventID, status, errMsg)
	return err
}

// CountFailedWebhookEvents counts deliveries that failed and have not succeeded
// on any redelivery since before the cutoff.
func (s *Store) CountFailedWebhookEvents(ctx context.Context, receivedBefore time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM webhook_events WHERE status = 'failed' AND received_at < $1`, receivedBefore).Scan(&count)
	return count, err
}
