// Package sqlite is the single-file entitlement store used for local
// development and tests. It mirrors the Postgres store method for method.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"premiumsync/internal/store"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		return nil, errors.New("missing sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection serializes writers, which is what keeps same-user
	// upserts from interleaving.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		user_id                  TEXT PRIMARY KEY,
		is_premium               INTEGER NOT NULL DEFAULT 0,
		expires_at               INTEGER,
		provider_customer_id     TEXT,
		provider_subscription_id TEXT,
		updated_at               INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entitlements_provider_customer_id ON entitlements(provider_customer_id);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id                TEXT PRIMARY KEY,
		provider          TEXT NOT NULL,
		external_event_id TEXT NOT NULL,
		event_name        TEXT NOT NULL DEFAULT '',
		user_id           TEXT NOT NULL DEFAULT '',
		payload_hash      TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'received',
		error             TEXT NOT NULL DEFAULT '',
		received_at       INTEGER NOT NULL,
		processed_at      INTEGER,
		UNIQUE (provider, external_event_id)
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status, received_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return s.upgradeTimeUnits()
}

// Times are stored as Unix microseconds, the precision Postgres keeps.
// Files written before user_version 1 hold whole seconds.
func (s *Store) upgradeTimeUnits() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read sqlite schema version: %w", err)
	}
	if version >= 1 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`UPDATE entitlements SET expires_at = expires_at * 1000000 WHERE expires_at IS NOT NULL`,
		`UPDATE entitlements SET updated_at = updated_at * 1000000`,
		`UPDATE webhook_events SET received_at = received_at * 1000000`,
		`UPDATE webhook_events SET processed_at = processed_at * 1000000 WHERE processed_at IS NOT NULL`,
		`PRAGMA user_version = 1`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("upgrade sqlite time units: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const entitlementColumns = `user_id, is_premium, expires_at, provider_customer_id, provider_subscription_id, updated_at`

func (s *Store) UpsertEntitlement(ctx context.Context, upd store.EntitlementUpdate) (store.Entitlement, error) {
	if upd.UserID == "" {
		return store.Entitlement{}, errors.New("missing user id")
	}
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `INSERT INTO entitlements (`+entitlementColumns+`)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
		ON CONFLICT (user_id) DO UPDATE SET
			is_premium = excluded.is_premium,
			expires_at = COALESCE(excluded.expires_at, entitlements.expires_at),
			provider_customer_id = COALESCE(excluded.provider_customer_id, entitlements.provider_customer_id),
			provider_subscription_id = COALESCE(excluded.provider_subscription_id, entitlements.provider_subscription_id),
			updated_at = excluded.updated_at
		RETURNING `+entitlementColumns,
		upd.UserID, boolToInt(upd.IsPremium), nullableMicros(upd.ExpiresAt),
		upd.ProviderCustomerID, upd.ProviderSubscriptionID, upd.UpdatedAt.UnixMicro())
	return scanEntitlement(row)
}

func (s *Store) GetEntitlement(ctx context.Context, userID string) (store.Entitlement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = ?`, userID)
	return scanEntitlement(row)
}

func (s *Store) ClearLapsedEntitlements(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE entitlements SET is_premium = 0, updated_at = ?
		WHERE is_premium = 1 AND expires_at IS NOT NULL AND expires_at <= ?`, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) InsertWebhookEventIfAbsent(ctx context.Context, ev store.WebhookEvent) (bool, string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = store.WebhookStatusReceived
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO webhook_events (id, provider, external_event_id, event_name, user_id, payload_hash, status, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, external_event_id) DO NOTHING`,
		ev.ID, ev.Provider, ev.ExternalEventID, ev.EventName, ev.UserID, ev.PayloadHash, ev.Status, time.Now().UnixMicro())
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
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM webhook_events WHERE provider = ? AND external_event_id = ?`,
		ev.Provider, ev.ExternalEventID).Scan(&status); err != nil {
		return false, "", err
	}
	return false, status, nil
}

func (s *Store) UpdateWebhookEventStatus(ctx context.Context, provider, externalEventID, status, errMsg string) error {
	var processedAt any
	if status == store.WebhookStatusProcessed || status == store.WebhookStatusIgnored {
		processedAt = time.Now().UnixMicro()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_events
		SET status = ?, error = ?, processed_at = COALESCE(?, processed_at)
		WHERE provider = ? AND external_event_id = ?`,
		status, errMsg, processedAt, provider, externalEventID)
	return err
}

func (s *Store) CountFailedWebhookEvents(ctx context.Context, receivedBefore time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM webhook_events WHERE status = 'failed' AND received_at < ?`,
		receivedBefore.UnixMicro()).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row rowScanner) (store.Entitlement, error) {
	var (
		ent                        store.Entitlement
		isPremium                  int
		expiresAt                  sql.NullInt64
		customerID, subscriptionID sql.NullString
		updatedAt                  int64
	)
	if err := row.Scan(&ent.UserID, &isPremium, &expiresAt, &customerID, &subscriptionID, &updatedAt); err != nil {
		return store.Entitlement{}, err
	}
	ent.IsPremium = isPremium != 0
	if expiresAt.Valid {
		ent.ExpiresAt = sql.NullTime{Time: time.UnixMicro(expiresAt.Int64).UTC(), Valid: true}
	}
	ent.ProviderCustomerID = customerID.String
	ent.ProviderSubscriptionID = subscriptionID.String
	ent.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return ent, nil
}

func nullableMicros(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time.UnixMicro()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
