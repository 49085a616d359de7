package api

import (
	"math"
	"sync"
	"time"
)

// idleBucketTTL bounds memory: buckets for clients that stopped calling are
// dropped once they would have refilled anyway.
const idleBucketTTL = 10 * time.Minute

type rateBucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket refilled at rpm/60 tokens a second.
type RateLimiter struct {
	rpm int
	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*rateBucket
	lastSweep time.Time
}

func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		now:     func() time.Time { return time.Now().UTC() },
		buckets: make(map[string]*rateBucket),
	}
}

// Allow reports whether clientKey may proceed and, if not, how many seconds
// to wait. A limiter with rpm <= 0 allows everything.
func (r *RateLimiter) Allow(clientKey string) (bool, int) {
	if r == nil || r.rpm <= 0 {
		return true, 0
	}
	now := r.now()
	capacity := float64(r.rpm)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep(now)

	bucket, ok := r.buckets[clientKey]
	if !ok {
		r.buckets[clientKey] = &rateBucket{tokens: capacity - 1, lastSeen: now}
		return true, 0
	}

	if elapsed := now.Sub(bucket.lastSeen).Seconds(); elapsed > 0 {
		bucket.tokens = math.Min(capacity, bucket.tokens+elapsed*capacity/60)
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, 0
	}
	retrySeconds := int(math.Ceil((1 - bucket.tokens) * 60 / capacity))
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	return false, retrySeconds
}

func (r *RateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < idleBucketTTL {
		return
	}
	r.lastSweep = now
	for key, bucket := range r.buckets {
		if now.Sub(bucket.lastSeen) > idleBucketTTL {
			delete(r.buckets, key)
		}
	}
}
