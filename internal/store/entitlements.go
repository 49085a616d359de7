package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const entitlementColumns = `user_id, is_premium, expires_at, provider_customer_id, provider_subscription_id, updated_at`

// UpsertEntitlement writes the record for upd.UserID in a single statement.
// The unique key on user_id makes concurrent upserts for one user serialize
// on the row; different users never contend.
func (s *Store) UpsertEntitlement(ctx context.Context, upd EntitlementUpdate) (Entitlement, error) {
	if upd.UserID == "" {
		return Entitlement{}, errors.New("missing user id")
	}
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `INSERT INTO entitlements (`+entitlementColumns+`)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		ON CONFLICT (user_id) DO UPDATE SET
			is_premium = EXCLUDED.is_premium,
			expires_at = COALESCE(EXCLUDED.expires_at, entitlements.expires_at),
			provider_customer_id = COALESCE(EXCLUDED.provider_customer_id, entitlements.provider_customer_id),
			provider_subscription_id = COALESCE(EXCLUDED.provider_subscription_id, entitlements.provider_subscription_id),
			updated_at = EXCLUDED.updated_at
		RETURNING `+entitlementColumns,
		upd.UserID, upd.IsPremium, upd.ExpiresAt, upd.ProviderCustomerID, upd.ProviderSubscriptionID, upd.UpdatedAt)
	return scanEntitlement(row)
}

// GetEntitlement returns sql.ErrNoRows when the user has never been reconciled.
func (s *Store) GetEntitlement(ctx context.Context, userID string) (Entitlement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1`, userID)
	return scanEntitlement(row)
}

// ClearLapsedEntitlements drops the premium flag on records whose expiry has passed.
func (s *Store) ClearLapsedEntitlements(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE entitlements SET is_premium = false, updated_at = $1
		WHERE is_premium = true AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row rowScanner) (Entitlement, error) {
	var ent Entitlement
	var customerID, subscriptionID sql.NullString
	if err := row.Scan(&ent.UserID, &ent.IsPremium, &ent.ExpiresAt, &customerID, &subscriptionID, &ent.UpdatedAt); err != nil {
		return Entitlement{}, err
	}
	ent.ProviderCustomerID = customerID.String
	ent.ProviderSubscriptionID = subscriptionID.String
	if ent.ExpiresAt.Valid {
		ent.ExpiresAt.Time = ent.ExpiresAt.Time.UTC()
	}
	ent.UpdatedAt = ent.UpdatedAt.UTC()
	return ent, nil
}
