package entitlements

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"premiumsync/internal/store"
)

func TestValidateAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) sql.NullTime { return sql.NullTime{Time: now.Add(d), Valid: true} }

	tests := []struct {
		name string
		ent  store.Entitlement
		want error
	}{
		{name: "premium with future expiry", ent: store.Entitlement{IsPremium: true, ExpiresAt: at(time.Hour)}, want: nil},
		{name: "premium without expiry", ent: store.Entitlement{IsPremium: true}, want: nil},
		{name: "premium with past expiry", ent: store.Entitlement{IsPremium: true, ExpiresAt: at(-time.Second)}, want: ErrLapsed},
		{name: "premium expiring exactly now", ent: store.Entitlement{IsPremium: true, ExpiresAt: at(0)}, want: ErrLapsed},
		{name: "flag off with future expiry", ent: store.Entitlement{IsPremium: false, ExpiresAt: at(24 * time.Hour)}, want: ErrNotPremium},
		{name: "flag off without expiry", ent: store.Entitlement{}, want: ErrNotPremium},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateAccess(now, tc.ent); !errors.Is(err, tc.want) {
				t.Fatalf("ValidateAccess() = %v, want %v", err, tc.want)
			}
		})
	}
}
