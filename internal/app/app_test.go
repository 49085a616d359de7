package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"premiumsync/internal/billing"
	"premiumsync/internal/config"
)

func TestNewWiresSQLiteStack(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "app.db")
	cfg.Billing.WebhookSecret = "whsec_app"
	cfg.Security.APIKey = "svc"

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.Cache != nil {
		t.Fatalf("expected no cache without redis url")
	}

	router := a.Handler.Router()
	renews := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	body := []byte(`{"meta":{"event_name":"subscription_created","custom_data":{"user_id":"u1"}},"data":{"id":"sub_1","attributes":{"customer_id":5,"renews_at":"` + renews + `"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", bytes.NewReader(body))
	req.Header.Set(billing.SignatureHeader, billing.Sign(body, []byte("whsec_app")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	ok, err := a.Entitlements.IsEntitled(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("expected u1 entitled after webhook, ok=%v err=%v", ok, err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mysql"
	cfg.Database.DSN = "x"
	if _, err := OpenStore(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown driver to be rejected")
	}
}
