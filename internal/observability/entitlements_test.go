package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestObserverAlertsOnRepeatedStoreFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	obs := NewObserver(&logger)

	for i := 0; i < 9; i++ {
		obs.StoreFailure("u1", errors.New("connection refused"))
	}
	if strings.Contains(buf.String(), `"alert":true`) {
		t.Fatalf("alert raised before tenth failure: %s", buf.String())
	}
	obs.StoreFailure("u1", errors.New("connection refused"))
	if !strings.Contains(buf.String(), `"alert":true`) {
		t.Fatalf("expected alert on tenth consecutive failure, got %s", buf.String())
	}
}

func TestObserverSuccessResetsFailureRun(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	obs := NewObserver(&logger)

	for i := 0; i < 9; i++ {
		obs.StoreFailure("u1", errors.New("timeout"))
	}
	obs.WebhookHandled("created", "applied", time.Millisecond)
	obs.StoreFailure("u1", errors.New("timeout"))
	if strings.Contains(buf.String(), `"alert":true`) {
		t.Fatalf("expected success to reset the failure run, got %s", buf.String())
	}
}

func TestObserverCountsOutcomes(t *testing.T) {
	obs := NewObserver(nil)
	before := testutil.ToFloat64(WebhookRequestsTotal.WithLabelValues("unknown", "unknown_kind"))

	obs.WebhookHandled("unknown", "unknown_kind", time.Millisecond)
	obs.WebhookHandled("unknown", "unknown_kind", time.Millisecond)

	if got := obs.Outcomes()["unknown_kind"]; got != 2 {
		t.Fatalf("expected 2 unknown_kind outcomes, got %d", got)
	}
	after := testutil.ToFloat64(WebhookRequestsTotal.WithLabelValues("unknown", "unknown_kind"))
	if after-before != 2 {
		t.Fatalf("expected counter to advance by 2, got %v", after-before)
	}
}

func TestNilObserverIsNoop(t *testing.T) {
	var obs *Observer
	obs.WebhookHandled("created", "applied", time.Second)
	obs.StoreFailure("u1", errors.New("x"))
	obs.EntitlementChecked(true)
	obs.FlagsCleared(3)
	if obs.Outcomes() != nil {
		t.Fatalf("expected nil outcomes from nil observer")
	}
}
