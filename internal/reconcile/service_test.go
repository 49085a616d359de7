package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"premiumsync/internal/store"
	"premiumsync/internal/store/sqlite"
)

func TestRunClearsLapsedFlags(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, upd := range []store.EntitlementUpdate{
		{UserID: "lapsed", IsPremium: true, ExpiresAt: sql.NullTime{Time: now.Add(-time.Hour), Valid: true}},
		{UserID: "active", IsPremium: true, ExpiresAt: sql.NullTime{Time: now.Add(time.Hour), Valid: true}},
		{UserID: "open", IsPremium: true},
	} {
		if _, err := st.UpsertEntitlement(ctx, upd); err != nil {
			t.Fatalf("seed %s: %v", upd.UserID, err)
		}
	}

	svc := NewService(st, nil, time.Hour)
	svc.Now = func() time.Time { return now }
	report, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("run reconciliation: %v", err)
	}
	if report.FlagsCleared != 1 {
		t.Fatalf("expected 1 flag cleared, got %d", report.FlagsCleared)
	}

	again, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.FlagsCleared != 0 {
		t.Fatalf("expected second run to be a no-op, got %d", again.FlagsCleared)
	}
	rec, err := st.GetEntitlement(ctx, "lapsed")
	if err != nil {
		t.Fatalf("get lapsed: %v", err)
	}
	if rec.IsPremium || !rec.ExpiresAt.Valid {
		t.Fatalf("expected flag cleared and expiry kept, got %+v", rec)
	}
}

func TestRunCountsStuckFailures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if _, _, err := st.InsertWebhookEventIfAbsent(ctx, store.WebhookEvent{Provider: "lemonsqueezy", ExternalEventID: "evt_1"}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if err := st.UpdateWebhookEventStatus(ctx, "lemonsqueezy", "evt_1", store.WebhookStatusFailed, "db down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	svc := NewService(st, nil, time.Hour)
	report, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.StuckFailures != 0 {
		t.Fatalf("fresh failures are not stuck yet, got %d", report.StuckFailures)
	}

	svc.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	report, err = svc.Run(ctx)
	if err != nil {
		t.Fatalf("run later: %v", err)
	}
	if report.StuckFailures != 1 {
		t.Fatalf("expected 1 stuck failure, got %d", report.StuckFailures)
	}
}

func TestRunSurfacesStoreErrors(t *testing.T) {
	svc := NewService(failingStore{}, nil, time.Hour)
	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	svc := NewService(failingStore{}, nil, time.Hour)
	if _, err := svc.Schedule(context.Background(), "every tuesday"); err == nil {
		t.Fatalf("expected invalid schedule to be rejected")
	}
	c, err := svc.Schedule(context.Background(), "@hourly")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-c.Stop().Done()
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "reconcile.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type failingStore struct{}

func (failingStore) ClearLapsedEntitlements(ctx context.Context, now time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) CountFailedWebhookEvents(ctx context.Context, receivedBefore time.Time) (int, error) {
	return 0, errors.New("connection refused")
}
