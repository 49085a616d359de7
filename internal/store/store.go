package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusFailed    = "failed"
)

// Entitlement is the persisted paid-access record for one user.
type Entitlement struct {
	UserID                 string
	IsPremium              bool
	ExpiresAt              sql.NullTime
	ProviderCustomerID     string
	ProviderSubscriptionID string
	UpdatedAt              time.Time
}

// EntitlementUpdate is the input of an upsert. Zero-valued optional fields
// (ExpiresAt invalid, empty provider ids) keep whatever the record already holds.
type EntitlementUpdate struct {
	UserID                 string
	IsPremium              bool
	ExpiresAt              sql.NullTime
	ProviderCustomerID     string
	ProviderSubscriptionID string
	UpdatedAt              time.Time
}

type WebhookEvent struct {
	ID              string
	Provider        string
	ExternalEventID string
	EventName       string
	UserID          string
	PayloadHash     string
	Status          string
	Error           string
	ReceivedAt      time.Time
	ProcessedAt     sql.NullTime
}

// Store is the Postgres implementation, backed by pgx through database/sql.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an already opened pgx handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
