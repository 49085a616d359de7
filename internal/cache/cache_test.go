package cache

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"premiumsync/internal/store"
)

func TestCacheRoundTripAndInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	expires := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	ent := store.Entitlement{
		UserID:             "u1",
		IsPremium:          true,
		ExpiresAt:          sql.NullTime{Time: expires, Valid: true},
		ProviderCustomerID: "cus_1",
		UpdatedAt:          expires.Add(-30 * 24 * time.Hour),
	}

	if _, ok, err := c.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected miss before set, ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, ent); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if !got.IsPremium || !got.ExpiresAt.Time.Equal(expires) || got.ProviderCustomerID != "cus_1" {
		t.Fatalf("unexpected cached record: %+v", got)
	}

	if err := c.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, err := c.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected miss after invalidate, ok=%v err=%v", ok, err)
	}
}

func TestCacheKeepsNullExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, store.Entitlement{UserID: "u2", IsPremium: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "u2")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.ExpiresAt.Valid {
		t.Fatalf("expected null expiry to survive the cache, got %+v", got.ExpiresAt)
	}
}

func TestFillDoesNotReplaceNewerRecord(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	stale := store.Entitlement{UserID: "u3", IsPremium: true}
	fresh := store.Entitlement{UserID: "u3", IsPremium: false}

	if err := c.Set(ctx, fresh); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Fill(ctx, stale); err != nil {
		t.Fatalf("fill: %v", err)
	}
	got, ok, err := c.Get(ctx, "u3")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.IsPremium {
		t.Fatalf("fill replaced the writer's record")
	}

	if err := c.Invalidate(ctx, "u3"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Fill(ctx, stale); err != nil {
		t.Fatalf("fill after miss: %v", err)
	}
	if got, ok, err := c.Get(ctx, "u3"); err != nil || !ok || !got.IsPremium {
		t.Fatalf("expected fill to populate an empty key, got %+v ok=%v err=%v", got, ok, err)
	}
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	url := os.Getenv("PS_TEST_REDIS_URL")
	if url == "" {
		url = "redis://127.0.0.1:6379/15"
	}
	c, err := New(url, time.Minute)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		t.Skipf("redis unavailable for cache tests (%s): %v", url, err)
	}
	c.keyNS = "premiumsync_test:" + uuid.NewString() + ":"
	t.Cleanup(func() { _ = c.Close() })
	return c
}
