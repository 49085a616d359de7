package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"premiumsync/internal/app"
	"premiumsync/internal/auth"
	"premiumsync/internal/config"
	"premiumsync/internal/logging"
	"premiumsync/internal/observability"
	"premiumsync/internal/reconcile"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "premiumsyncd",
	Short:         "Billing webhook reconciliation and entitlement service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	tokenUser string
	tokenTTL  time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd, tokenCmd, versionCmd)
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the sub claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 15*time.Minute, "token lifetime (max 24h)")
	_ = tokenCmd.MarkFlagRequired("user")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func loadConfig(component string) (config.Config, error) {
	cfg, err := config.Load(os.Getenv("PS_CONFIG"))
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level, Component: component})
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and entitlement API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("premiumsyncd")
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("app init: %w", err)
		}
		defer a.Close()

		if cfg.Reconcile.Schedule != "" {
			sweeper, err := a.Reconcile.Schedule(ctx, cfg.Reconcile.Schedule)
			if err != nil {
				return err
			}
			defer sweeper.Stop()
			log.Info().Str("schedule", cfg.Reconcile.Schedule).Msg("reconcile sweep scheduled")
		}
		return a.Serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("migrate")
		if err != nil {
			return err
		}
		st, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		log.Info().Str("driver", cfg.Database.Driver).Msg("schema up to date")
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconcile sweep and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("reconcile")
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := app.OpenStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		svc := reconcile.NewService(st, observability.NewObserver(&log.Logger), cfg.Reconcile.FailedEventAge)
		report, err := svc.Run(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reconcile complete: flags_cleared=%d stuck_failures=%d\n", report.FlagsCleared, report.StuckFailures)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a user bearer token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("token")
		if err != nil {
			return err
		}
		issued, err := auth.NewService(cfg).IssueUserToken(tokenUser, tokenTTL)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(issued)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "premiumsyncd %s\n", Version)
		if GitCommit != "unknown" {
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", GitCommit)
		}
	},
}
