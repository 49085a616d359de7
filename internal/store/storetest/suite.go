// Package storetest holds behaviour checks shared by every entitlement store backend.
package storetest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"premiumsync/internal/store"
)

type Backend interface {
	UpsertEntitlement(ctx context.Context, upd store.EntitlementUpdate) (store.Entitlement, error)
	GetEntitlement(ctx context.Context, userID string) (store.Entitlement, error)
	ClearLapsedEntitlements(ctx context.Context, now time.Time) (int, error)
	InsertWebhookEventIfAbsent(ctx context.Context, ev store.WebhookEvent) (bool, string, error)
	UpdateWebhookEventStatus(ctx context.Context, provider, externalEventID, status, errMsg string) error
	CountFailedWebhookEvents(ctx context.Context, receivedBefore time.Time) (int, error)
}

// Run executes the suite; newBackend must return an empty, migrated store.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Helper()
	t.Run("missing record", func(t *testing.T) { testMissingRecord(t, newBackend(t)) })
	t.Run("upsert is idempotent", func(t *testing.T) { testUpsertIdempotent(t, newBackend(t)) })
	t.Run("absent fields are kept", func(t *testing.T) { testAbsentFieldsKept(t, newBackend(t)) })
	t.Run("sub-second times survive", func(t *testing.T) { testSubSecondTimes(t, newBackend(t)) })
	t.Run("concurrent upserts stay whole", func(t *testing.T) { testConcurrentUpserts(t, newBackend(t)) })
	t.Run("clear lapsed", func(t *testing.T) { testClearLapsed(t, newBackend(t)) })
	t.Run("webhook event dedupe", func(t *testing.T) { testWebhookEventDedupe(t, newBackend(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testMissingRecord(t *testing.T, b Backend) {
	_, err := b.GetEntitlement(context.Background(), "nobody")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown user, got %v", err)
	}
}

func testUpsertIdempotent(t *testing.T, b Backend) {
	ctx := context.Background()
	upd := store.EntitlementUpdate{
		UserID:                 "u1",
		IsPremium:              true,
		ExpiresAt:              sql.NullTime{Time: base.Add(30 * 24 * time.Hour), Valid: true},
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: "sub_1",
		UpdatedAt:              base,
	}
	first, err := b.UpsertEntitlement(ctx, upd)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := b.UpsertEntitlement(ctx, upd); err != nil {
			t.Fatalf("repeat upsert %d: %v", i, err)
		}
	}
	got, err := b.GetEntitlement(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sameRecord(first, got) {
		t.Fatalf("repeated upsert changed record: first=%+v got=%+v", first, got)
	}
}

func testAbsentFieldsKept(t *testing.T, b Backend) {
	ctx := context.Background()
	expiry := base.Add(30 * 24 * time.Hour)
	if _, err := b.UpsertEntitlement(ctx, store.EntitlementUpdate{
		UserID:                 "u2",
		IsPremium:              true,
		ExpiresAt:              sql.NullTime{Time: expiry, Valid: true},
		ProviderCustomerID:     "cus_2",
		ProviderSubscriptionID: "sub_2",
		UpdatedAt:              base,
	}); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	got, err := b.UpsertEntitlement(ctx, store.EntitlementUpdate{
		UserID:    "u2",
		IsPremium: false,
		UpdatedAt: base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("partial upsert: %v", err)
	}
	if got.IsPremium {
		t.Fatalf("expected premium flag to be overwritten")
	}
	if !got.ExpiresAt.Valid || !got.ExpiresAt.Time.Equal(expiry) {
		t.Fatalf("expected expiry to be kept, got %+v", got.ExpiresAt)
	}
	if got.ProviderCustomerID != "cus_2" || got.ProviderSubscriptionID != "sub_2" {
		t.Fatalf("expected provider ids to be kept, got %q/%q", got.ProviderCustomerID, got.ProviderSubscriptionID)
	}

	got, err = b.UpsertEntitlement(ctx, store.EntitlementUpdate{
		UserID:                 "u2",
		IsPremium:              true,
		ProviderSubscriptionID: "sub_3",
		UpdatedAt:              base.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("plan change upsert: %v", err)
	}
	if got.ProviderSubscriptionID != "sub_3" || got.ProviderCustomerID != "cus_2" {
		t.Fatalf("expected only subscription id to change, got %q/%q", got.ProviderCustomerID, got.ProviderSubscriptionID)
	}
}

func testSubSecondTimes(t *testing.T, b Backend) {
	ctx := context.Background()
	expiry := base.Add(30*24*time.Hour + 123456*time.Microsecond)
	updated := base.Add(654321 * time.Microsecond)
	if _, err := b.UpsertEntitlement(ctx, store.EntitlementUpdate{
		UserID:    "micro",
		IsPremium: true,
		ExpiresAt: sql.NullTime{Time: expiry, Valid: true},
		UpdatedAt: updated,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := b.GetEntitlement(ctx, "micro")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ExpiresAt.Time.Equal(expiry) {
		t.Fatalf("expiry lost precision: got %s want %s", got.ExpiresAt.Time, expiry)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Fatalf("updated_at lost precision: got %s want %s", got.UpdatedAt, updated)
	}

	// Half a second past expiry is already lapsed.
	cleared, err := b.ClearLapsedEntitlements(ctx, expiry.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("clear lapsed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected sub-second lapse to be cleared, got %d", cleared)
	}
}

func testConcurrentUpserts(t *testing.T, b Backend) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := b.UpsertEntitlement(ctx, store.EntitlementUpdate{
				UserID:                 "shared",
				IsPremium:              true,
				ExpiresAt:              sql.NullTime{Time: base.Add(time.Duration(i) * time.Hour), Valid: true},
				ProviderCustomerID:     fmt.Sprintf("cus_%d", i),
				ProviderSubscriptionID: fmt.Sprintf("sub_%d", i),
				UpdatedAt:              base,
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := b.UpsertEntitlement(ctx, store.EntitlementUpdate{
				UserID:    fmt.Sprintf("other_%d", i),
				IsPremium: true,
				UpdatedAt: base,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert: %v", err)
		}
	}

	got, err := b.GetEntitlement(ctx, "shared")
	if err != nil {
		t.Fatalf("get shared: %v", err)
	}
	// Every writer supplied matching customer/subscription suffixes; a torn
	// write would pair ids from different writers.
	var n, m int
	if _, err := fmt.Sscanf(got.ProviderCustomerID, "cus_%d", &n); err != nil {
		t.Fatalf("parse customer id %q: %v", got.ProviderCustomerID, err)
	}
	if _, err := fmt.Sscanf(got.ProviderSubscriptionID, "sub_%d", &m); err != nil {
		t.Fatalf("parse subscription id %q: %v", got.ProviderSubscriptionID, err)
	}
	if n != m {
		t.Fatalf("interleaved write: customer=%s subscription=%s", got.ProviderCustomerID, got.ProviderSubscriptionID)
	}
	if !got.ExpiresAt.Time.Equal(base.Add(time.Duration(n) * time.Hour)) {
		t.Fatalf("interleaved write: expiry %s does not belong to writer %d", got.ExpiresAt.Time, n)
	}
}

func testClearLapsed(t *testing.T, b Backend) {
	ctx := context.Background()
	now := base
	seed := []store.EntitlementUpdate{
		{UserID: "lapsed", IsPremium: true, ExpiresAt: sql.NullTime{Time: now.Add(-time.Hour), Valid: true}},
		{UserID: "current", IsPremium: true, ExpiresAt: sql.NullTime{Time: now.Add(time.Hour), Valid: true}},
		{UserID: "open", IsPremium: true},
		{UserID: "free", IsPremium: false, ExpiresAt: sql.NullTime{Time: now.Add(-time.Hour), Valid: true}},
	}
	for _, upd := range seed {
		upd.UpdatedAt = now.Add(-24 * time.Hour)
		if _, err := b.UpsertEntitlement(ctx, upd); err != nil {
			t.Fatalf("seed %s: %v", upd.UserID, err)
		}
	}

	cleared, err := b.ClearLapsedEntitlements(ctx, now)
	if err != nil {
		t.Fatalf("clear lapsed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared record, got %d", cleared)
	}
	for user, want := range map[string]bool{"lapsed": false, "current": true, "open": true, "free": false} {
		got, err := b.GetEntitlement(ctx, user)
		if err != nil {
			t.Fatalf("get %s: %v", user, err)
		}
		if got.IsPremium != want {
			t.Fatalf("user %s premium=%v, want %v", user, got.IsPremium, want)
		}
	}
}

func testWebhookEventDedupe(t *testing.T, b Backend) {
	ctx := context.Background()
	ev := store.WebhookEvent{
		Provider:        "lemonsqueezy",
		ExternalEventID: "evt_1",
		EventName:       "subscription_created",
		UserID:          "u1",
		PayloadHash:     "abc",
	}
	inserted, status, err := b.InsertWebhookEventIfAbsent(ctx, ev)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if !inserted || status != store.WebhookStatusReceived {
		t.Fatalf("expected fresh insert with received status, got inserted=%v status=%s", inserted, status)
	}

	inserted, status, err = b.InsertWebhookEventIfAbsent(ctx, ev)
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted || status != store.WebhookStatusReceived {
		t.Fatalf("expected duplicate to report received, got inserted=%v status=%s", inserted, status)
	}

	if err := b.UpdateWebhookEventStatus(ctx, ev.Provider, ev.ExternalEventID, store.WebhookStatusFailed, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	failed, err := b.CountFailedWebhookEvents(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed event, got %d", failed)
	}

	if err := b.UpdateWebhookEventStatus(ctx, ev.Provider, ev.ExternalEventID, store.WebhookStatusProcessed, ""); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	_, status, err = b.InsertWebhookEventIfAbsent(ctx, ev)
	if err != nil {
		t.Fatalf("insert after processed: %v", err)
	}
	if status != store.WebhookStatusProcessed {
		t.Fatalf("expected processed status on redelivery, got %s", status)
	}
	failed, err = b.CountFailedWebhookEvents(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("count failed after success: %v", err)
	}
	if failed != 0 {
		t.Fatalf("expected no failed events after success, got %d", failed)
	}
}

func sameRecord(a, b store.Entitlement) bool {
	if a.UserID != b.UserID || a.IsPremium != b.IsPremium {
		return false
	}
	if a.ExpiresAt.Valid != b.ExpiresAt.Valid || (a.ExpiresAt.Valid && !a.ExpiresAt.Time.Equal(b.ExpiresAt.Time)) {
		return false
	}
	return a.ProviderCustomerID == b.ProviderCustomerID && a.ProviderSubscriptionID == b.ProviderSubscriptionID
}
