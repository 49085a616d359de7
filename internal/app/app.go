package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"premiumsync/internal/api"
	"premiumsync/internal/auth"
	"premiumsync/internal/billing"
	"premiumsync/internal/cache"
	"premiumsync/internal/config"
	"premiumsync/internal/entitlements"
	"premiumsync/internal/observability"
	"premiumsync/internal/reconcile"
	"premiumsync/internal/store"
	"premiumsync/internal/store/sqlite"
)

// Backend is everything the service needs from persistence. The Postgres
// and SQLite stores both implement it.
type Backend interface {
	billing.EntitlementStore
	billing.EventLog
	entitlements.Reader
	reconcile.Store
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	Config       config.Config
	Store        Backend
	Cache        *cache.Cache
	Observer     *observability.Observer
	Billing      *billing.Service
	Entitlements *entitlements.Service
	Reconcile    *reconcile.Service
	Handler      *api.Handler
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	observer := observability.NewObserver(&log.Logger)
	a := &App{Config: cfg, Store: st, Observer: observer}

	// Interfaces below must stay nil when no cache is configured.
	var cacheWriter billing.CacheWriter
	var recordCache entitlements.RecordCache
	if cfg.Redis.URL != "" {
		c, err := cache.New(cfg.Redis.URL, cfg.Redis.EntitlementTTL)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Cache = c
		cacheWriter = c
		recordCache = c
	}

	parser, err := billing.NewParser()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	dispatcher := billing.NewDispatcher(st, cacheWriter)
	a.Billing = billing.NewService(billing.WebhookConfig{
		Provider: cfg.Billing.Provider,
		Secret:   []byte(cfg.Billing.WebhookSecret),
		StoreID:  cfg.Billing.StoreID,
	}, parser, dispatcher, st, observer)
	a.Entitlements = entitlements.NewService(st, recordCache, observer, cfg.Quiz.FreeDailyAttempts)
	a.Reconcile = reconcile.NewService(st, observer, cfg.Reconcile.FailedEventAge)

	var checkout api.CheckoutCreator
	if cfg.Billing.APIKey != "" {
		checkout = billing.NewCheckoutClient(billing.CheckoutConfig{
			APIKey:      cfg.Billing.APIKey,
			APIBaseURL:  cfg.Billing.APIBaseURL,
			StoreID:     cfg.Billing.StoreID,
			VariantID:   cfg.Billing.VariantID,
			RedirectURL: cfg.Billing.CheckoutRedirectURL,
		})
	}
	a.Handler = api.NewHandler(cfg, auth.NewService(cfg), a.Billing, a.Entitlements, checkout)
	a.Handler.Ready["store"] = st
	if a.Cache != nil {
		a.Handler.Ready["cache"] = a.Cache
	}
	return a, nil
}

// OpenStore opens the configured backend and brings its schema up to date.
func OpenStore(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Database.DSN)
	case "postgres", "":
		st, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx, st.DB()); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	return err
}

// Serve runs the API and metrics listeners until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Handler.Router(),
		ReadHeaderTimeout: a.Config.HTTP.ReadHeaderTimeout,
	}
	var metricsSrv *http.Server
	if a.Config.HTTP.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              a.Config.HTTP.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", metricsSrv.Addr).Msg("metrics listener stopped")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("metrics_addr", a.Config.HTTP.MetricsAddr).Msg("premiumsync listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
