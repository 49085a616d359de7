package api

import (
	"testing"
	"time"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(2)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, retry := rl.Allow("10.0.0.1")
	if ok {
		t.Fatalf("third request should be limited")
	}
	if retry != 30 {
		t.Fatalf("expected 30s retry at 2 rpm, got %d", retry)
	}
	if ok, _ := rl.Allow("10.0.0.2"); !ok {
		t.Fatalf("other clients must not share a bucket")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := rl.Allow("10.0.0.1"); !ok {
		t.Fatalf("expected a token after refill")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if ok, _ := rl.Allow("10.0.0.1"); !ok {
			t.Fatalf("disabled limiter must allow everything")
		}
	}
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(60)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(idleBucketTTL + time.Minute)
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["10.0.0.1"]; ok {
		t.Fatalf("expected idle bucket to be evicted")
	}
	if len(rl.buckets) != 1 {
		t.Fatalf("expected one live bucket, got %d", len(rl.buckets))
	}
}
