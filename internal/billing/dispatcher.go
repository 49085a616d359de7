package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"premiumsync/internal/logging"
	"premiumsync/internal/store"
)

// EntitlementStore is the write side the dispatcher needs. Both the Postgres
// and SQLite stores satisfy it.
type EntitlementStore interface {
	UpsertEntitlement(ctx context.Context, upd store.EntitlementUpdate) (store.Entitlement, error)
}

// CacheWriter receives each committed record. Invalidate is the fallback
// when the record cannot be written.
type CacheWriter interface {
	Set(ctx context.Context, ent store.Entitlement) error
	Invalidate(ctx context.Context, userID string) error
}

type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeUnattributable Outcome = "unattributable"
	OutcomeUnknownKind    Outcome = "unknown_kind"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeForeignStore   Outcome = "foreign_store"
)

// StoreError wraps a failed write. The provider should redeliver.
type StoreError struct {
	UserID string
	Err    error
}

func (e *StoreError) Error() string {
	return "entitlement store: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Retryable() bool { return true }

// IsRetryable reports whether err asks the provider to redeliver.
func IsRetryable(err error) bool {
	var retryable interface{ Retryable() bool }
	return errors.As(err, &retryable) && retryable.Retryable()
}

// entitledStatuses are the provider statuses that grant access on an update.
// Anything else, including statuses the provider adds later, does not.
var entitledStatuses = map[string]bool{
	"active":   true,
	"on_trial": true,
}

type Dispatcher struct {
	Store EntitlementStore
	Cache CacheWriter
	Now   func() time.Time
}

func NewDispatcher(st EntitlementStore, cache CacheWriter) *Dispatcher {
	return &Dispatcher{
		Store: st,
		Cache: cache,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Apply reconciles one event into at most one upsert. Only a store failure
// is returned as an error; every other condition resolves to an Outcome.
func (d *Dispatcher) Apply(ctx context.Context, ev InboundEvent) (Outcome, error) {
	logger := logging.FromContext(ctx).With().
		Str("event_name", ev.EventName).
		Str("kind", string(ev.Kind)).
		Str("user_id", ev.UserID).
		Logger()

	if ev.Kind == KindUnknown {
		logger.Info().Msg("ignoring unknown billing event")
		return OutcomeUnknownKind, nil
	}
	if ev.UserID == "" {
		logger.Info().Str("subscription_id", ev.ProviderSubscriptionID).Msg("billing event has no user id; acknowledging without change")
		return OutcomeUnattributable, nil
	}

	now := d.now()
	upd := store.EntitlementUpdate{
		UserID:                 ev.UserID,
		ProviderCustomerID:     ev.ProviderCustomerID,
		ProviderSubscriptionID: ev.ProviderSubscriptionID,
		UpdatedAt:              now,
	}
	expiry := ComputeExpiry(ev)

	switch ev.Kind {
	case KindCreated, KindResumed, KindUnpaused:
		upd.IsPremium = true
	case KindUpdated:
		upd.IsPremium = entitledStatuses[ev.Status]
	case KindCancelled, KindExpired:
		upd.IsPremium = false
	case KindPaused:
		upd.IsPremium = false
		expiry = nil
	}
	if expiry != nil {
		upd.ExpiresAt = sql.NullTime{Time: expiry.UTC(), Valid: true}
		// A premium flag is never written alongside an expiry that has
		// already passed.
		if upd.IsPremium && !expiry.After(now) {
			logger.Warn().Time("expires_at", *expiry).Msg("event grants access with a past expiry; writing as lapsed")
			upd.IsPremium = false
		}
	}

	rec, err := d.Store.UpsertEntitlement(ctx, upd)
	if err != nil {
		return "", &StoreError{UserID: ev.UserID, Err: err}
	}
	d.refreshCache(ctx, logger, rec)

	logger.Info().
		Bool("is_premium", rec.IsPremium).
		Func(func(e *zerolog.Event) {
			if rec.ExpiresAt.Valid {
				e.Time("expires_at", rec.ExpiresAt.Time)
			}
		}).
		Msg("entitlement reconciled")
	return OutcomeApplied, nil
}

func (d *Dispatcher) refreshCache(ctx context.Context, logger zerolog.Logger, rec store.Entitlement) {
	if d.Cache == nil {
		return
	}
	err := d.Cache.Set(ctx, rec)
	if err == nil {
		return
	}
	logger.Warn().Err(err).Msg("entitlement cache write failed; invalidating")
	if err := d.Cache.Invalidate(ctx, rec.UserID); err != nil {
		logger.Warn().Err(err).Msg("entitlement cache invalidation failed; entry will expire by ttl")
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
