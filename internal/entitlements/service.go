package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"premiumsync/internal/logging"
	"premiumsync/internal/observability"
	"premiumsync/internal/store"
)

type Reader interface {
	GetEntitlement(ctx context.Context, userID string) (store.Entitlement, error)
}

// RecordCache holds stored records, not answers. Fill must not replace an
// existing entry: writers own the key once they have committed.
type RecordCache interface {
	Get(ctx context.Context, userID string) (store.Entitlement, bool, error)
	Fill(ctx context.Context, ent store.Entitlement) error
}

// Status is the answer handed to gating code.
type Status struct {
	IsPremium bool       `json:"is_premium"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type Service struct {
	Store    Reader
	Cache    RecordCache
	Observer *observability.Observer
	Now      func() time.Time

	FreeDailyAttempts int
}

func NewService(st Reader, cache RecordCache, observer *observability.Observer, freeDailyAttempts int) *Service {
	return &Service{
		Store:             st,
		Cache:             cache,
		Observer:          observer,
		Now:               func() time.Time { return time.Now().UTC() },
		FreeDailyAttempts: freeDailyAttempts,
	}
}

func (s *Service) IsEntitled(ctx context.Context, userID string) (bool, error) {
	status, err := s.Lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.IsPremium, nil
}

// Lookup never mutates. A user with no record is simply not premium.
func (s *Service) Lookup(ctx context.Context, userID string) (Status, error) {
	ent, found, err := s.load(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if !found {
		s.Observer.EntitlementChecked(false)
		return Status{}, nil
	}

	status := Status{IsPremium: ValidateAccess(s.now(), ent) == nil}
	if ent.ExpiresAt.Valid {
		expires := ent.ExpiresAt.Time
		status.ExpiresAt = &expires
	}
	s.Observer.EntitlementChecked(status.IsPremium)
	return status, nil
}

// DailyQuizLimit returns capped=false for entitled users; everyone else gets
// the free allowance.
func (s *Service) DailyQuizLimit(ctx context.Context, userID string) (int, bool, error) {
	entitled, err := s.IsEntitled(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if entitled {
		return 0, false, nil
	}
	return s.FreeDailyAttempts, true, nil
}

func (s *Service) load(ctx context.Context, userID string) (store.Entitlement, bool, error) {
	logger := logging.FromContext(ctx)
	if s.Cache != nil {
		ent, ok, err := s.Cache.Get(ctx, userID)
		if err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache read failed; using store")
		} else if ok {
			return ent, true, nil
		}
	}

	ent, err := s.Store.GetEntitlement(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entitlement{}, false, nil
	}
	if err != nil {
		return store.Entitlement{}, false, err
	}
	if s.Cache != nil {
		if err := s.Cache.Fill(ctx, ent); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache write failed")
		}
	}
	return ent, true, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
