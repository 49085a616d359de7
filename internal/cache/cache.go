// Package cache keeps short-lived copies of entitlement records in Redis.
// It stores the record, never the computed answer, so readers always
// re-evaluate expiry against their own clock.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"premiumsync/internal/store"
)

const defaultKeyPrefix = "premiumsync:entitlement:"

type Cache struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func New(url string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewWithClient(redis.NewClient(opt), "", ttl), nil
}

func NewWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *Cache {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, keyNS: keyPrefix, ttl: ttl}
}

func (c *Cache) key(userID string) string { return c.keyNS + userID }

type cachedRecord struct {
	UserID                 string     `json:"user_id"`
	IsPremium              bool       `json:"is_premium"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	ProviderCustomerID     string     `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string     `json:"provider_subscription_id,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Set overwrites the cached record. Writers call it with the row they just
// committed.
func (c *Cache) Set(ctx context.Context, ent store.Entitlement) error {
	b, err := encodeRecord(ent)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(ent.UserID), b, c.ttl).Err()
}

// Fill caches ent only when no entry exists. Readers use it so a record read
// before a concurrent write cannot replace the writer's fresher copy.
func (c *Cache) Fill(ctx context.Context, ent store.Entitlement) error {
	b, err := encodeRecord(ent)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, c.key(ent.UserID), b, c.ttl).Err()
}

func encodeRecord(ent store.Entitlement) ([]byte, error) {
	rec := cachedRecord{
		UserID:                 ent.UserID,
		IsPremium:              ent.IsPremium,
		ProviderCustomerID:     ent.ProviderCustomerID,
		ProviderSubscriptionID: ent.ProviderSubscriptionID,
		UpdatedAt:              ent.UpdatedAt,
	}
	if ent.ExpiresAt.Valid {
		t := ent.ExpiresAt.Time
		rec.ExpiresAt = &t
	}
	return json.Marshal(rec)
}

// Get reports ok=false on a miss.
func (c *Cache) Get(ctx context.Context, userID string) (store.Entitlement, bool, error) {
	val, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Entitlement{}, false, nil
	}
	if err != nil {
		return store.Entitlement{}, false, err
	}
	var rec cachedRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return store.Entitlement{}, false, err
	}
	ent := store.Entitlement{
		UserID:                 rec.UserID,
		IsPremium:              rec.IsPremium,
		ProviderCustomerID:     rec.ProviderCustomerID,
		ProviderSubscriptionID: rec.ProviderSubscriptionID,
		UpdatedAt:              rec.UpdatedAt,
	}
	if rec.ExpiresAt != nil {
		ent.ExpiresAt = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}
	return ent, true, nil
}

func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
