package entitlements

import (
	"errors"
	"time"

	"premiumsync/internal/store"
)

var (
	ErrNotPremium = errors.New("no active subscription")
	ErrLapsed     = errors.New("subscription expired")
)

// ValidateAccess applies the read-time rule: the stored flag must be set and
// any recorded expiry must still be ahead of now. The flag alone is never
// trusted.
func ValidateAccess(now time.Time, ent store.Entitlement) error {
	if !ent.IsPremium {
		return ErrNotPremium
	}
	if ent.ExpiresAt.Valid && !ent.ExpiresAt.Time.After(now) {
		return ErrLapsed
	}
	return nil
}
