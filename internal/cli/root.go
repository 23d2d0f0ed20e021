// Package cli wires the habithero command tree: the HTTP server and the data
// maintenance commands.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/config"
	"github.com/boddenberg/habit-hero-go/internal/infra/cache"
	"github.com/boddenberg/habit-hero-go/internal/infra/client"
	"github.com/boddenberg/habit-hero-go/internal/infra/idgen"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/infra/resilience"
	"github.com/boddenberg/habit-hero-go/internal/infra/sqlite"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time.
var Version = "dev"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the habithero command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "habithero",
		Short: "Household habit tracker with a reward-points ledger",
		Long: `habithero runs the household points ledger: children claim habits,
parents approve them, and points are spent on rewards.

Run "habithero serve" for the HTTP API. The data commands work on the local
database, or on a running server with --server and --pin.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "TOML config file")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(
		newServeCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newResetCmd(a),
		newBulkSeedCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "habithero %s\n", Version)
			},
		},
	)
	return cmd
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = observability.NewLogger(cfg.LogLevel)
	return nil
}

func (a *app) resilienceConfig() resilience.Config {
	return resilience.Config{
		MaxRetries:     a.cfg.MaxRetries,
		InitialBackoff: a.cfg.InitialBackoff,
		MaxBackoff:     2 * time.Second,
		MaxConcurrency: a.cfg.MaxConcurrency,
	}
}

// openLedger opens the configured database and loads the ledger from it. The
// returned close function flushes pending settings and closes the database.
func (a *app) openLedger(ctx context.Context, metrics *observability.Metrics) (*service.Ledger, func(context.Context) error, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	store, err := sqlite.Open(ctx, a.cfg.DBPath, a.logger)
	if err != nil {
		return nil, nil, err
	}

	ledger := service.NewLedger(store, idgen.New(), metrics, a.logger,
		service.WithLocation(loc),
		service.WithRetry(a.resilienceConfig()),
		service.WithCompletedCache(cache.New[[]string](a.cfg.CacheTTL)),
		service.WithAdminGuard(service.NewAdminGuard(a.cfg.AdminSecret, a.cfg.AdminSecretHash)),
		service.WithSettingsWriteTimeout(a.cfg.SettingsWriteTimeout),
	)
	closeFn := func(ctx context.Context) error {
		lerr := ledger.Close(ctx)
		if err := store.Close(); err != nil && lerr == nil {
			lerr = err
		}
		return lerr
	}

	if err := ledger.Load(ctx); err != nil {
		_ = closeFn(ctx)
		return nil, nil, err
	}
	return ledger, closeFn, nil
}

// newRemoteClient builds a client for a running server and opens a parent session.
func (a *app) newRemoteClient(ctx context.Context, serverURL, pin string, metrics *observability.Metrics) (*client.HabitHeroClient, error) {
	cb := resilience.NewCircuitBreaker("habit-hero-api", a.logger)
	c := client.NewHabitHeroClient(&http.Client{Timeout: a.cfg.HTTPTimeout}, serverURL, cb, a.resilienceConfig(), metrics)
	if err := c.Login(ctx, pin); err != nil {
		return nil, fmt.Errorf("parent login: %w", err)
	}
	return c, nil
}
