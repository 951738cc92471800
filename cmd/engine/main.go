package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/V4T54L/argos/internal/adapter/api"
	"github.com/V4T54L/argos/internal/adapter/api/handler"
	redisrepo "github.com/V4T54L/argos/internal/adapter/repository/redis"
	"github.com/V4T54L/argos/internal/pkg/config"
	"github.com/V4T54L/argos/internal/pkg/logger"
	"github.com/V4T54L/argos/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var tuningFile string

	cmd := &cobra.Command{
		Use:          "argos-engine",
		Short:        "Fuse extracted conflict events into incident clusters and zone escalation scores",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if tuningFile != "" {
				return os.Setenv("TUNING_FILE", tuningFile)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&tuningFile, "tuning", "", "YAML file overriding engine tunables (same as TUNING_FILE)")

	cmd.AddCommand(newRunCmd(), newCycleCmd(), newMigrateCmd())
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run fusion cycles on a schedule and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if interval > 0 {
				cfg.CycleInterval = interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer a.Close()

			adminServer := &http.Server{
				Addr:              cfg.AdminServerAddr,
				Handler:           a.adminRouter(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				a.logger.Info("starting admin server", "addr", adminServer.Addr)
				if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("admin server failed", "error", err)
					stop()
				}
			}()

			a.schedule(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("admin server shutdown failed", "error", err)
			}
			a.logger.Info("engine shut down gracefully")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "cycle interval (overrides CYCLE_INTERVAL)")
	return cmd
}

func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single fusion cycle and print its summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.cycle.RunCycle(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the cluster, zone and collector key tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)

			db, store, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.Migrate(cmd.Context(), cfg.Embedding.Dims); err != nil {
				return err
			}
			log.Info("schema is up to date", "embedding_dims", cfg.Embedding.Dims)
			return nil
		},
	}
}

// schedule runs a cycle immediately and then every CycleInterval until ctx
// is done. A failed cycle is retried at the next tick; nothing was
// acknowledged, so its events are read again.
func (a *app) schedule(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CycleInterval)
	defer ticker.Stop()

	a.logger.Info("engine started", "interval", a.cfg.CycleInterval, "group", a.cfg.Stream.Group, "consumer", a.cfg.Stream.Consumer)
	for {
		if err := a.runOnce(ctx); err != nil && ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, stopping scheduler")
			return
		case <-ticker.C:
		}
	}
}

func (a *app) adminRouter() http.Handler {
	streams := usecase.NewEventStreamAdminUseCase(redisrepo.NewAdminRepository(a.redis, a.logger), a.cfg.Stream.Events, a.cfg.Stream.DLQ)
	query := usecase.NewQueryUseCase(a.store, a.store, a.tracker)
	return api.NewAdminRouter(handler.NewAdminHandler(streams, query, a.logger), prometheus.DefaultGatherer, a.logger)
}
