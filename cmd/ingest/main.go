package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/argos/internal/adapter/api"
	"github.com/V4T54L/argos/internal/adapter/metrics"
	"github.com/V4T54L/argos/internal/adapter/pii"
	"github.com/V4T54L/argos/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/argos/internal/adapter/repository/redis"
	"github.com/V4T54L/argos/internal/adapter/repository/wal"
	"github.com/V4T54L/argos/internal/pkg/config"
	"github.com/V4T54L/argos/internal/pkg/logger"
	"github.com/V4T54L/argos/internal/usecase"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	m := metrics.NewIngestMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Metrics Server ---
	metricsRouter := chi.NewRouter()
	metricsRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsRouter.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.AdminServerAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// --- Database and Redis Connections ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := redisrepo.NewClient(cfg.RedisAddr)
	if err != nil {
		logger.Error("failed to create redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("could not connect to redis, will proceed in WAL-only mode", "error", err)
	}

	// --- Initialize Repositories ---
	walRepo, err := wal.NewWALRepository(cfg.WALDir, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
	if err != nil {
		logger.Error("failed to initialize WAL repository", "error", err)
		os.Exit(1)
	}
	defer walRepo.Close()

	keys := postgres.NewCollectorKeyRepository(db, logger, cfg.CollectorKeyCacheTTL, m)

	// The ingest side only appends, so no consumer group is created here.
	stream := redisrepo.NewEventStream(redisClient, redisrepo.StreamConfig{
		Stream: cfg.Stream.Events,
		DLQ:    cfg.Stream.DLQ,
		MaxLen: cfg.Stream.MaxLen,
	}, walRepo, logger)
	stream.OnFailover(m.SetWALActive)

	// Start Redis health check and WAL replay loop
	go stream.StartHealthCheck(ctx, cfg.RedisHealthInterval)

	// --- Initialize Use Cases ---
	redactor := pii.NewRedactor(cfg.RedactionFields(), logger)
	ingestUseCase := usecase.NewIngestEventUseCase(stream, redactor, cfg.Embedding.Dims, logger)

	// --- Initialize Ingest Server ---
	ingestServer := &http.Server{
		Addr:         cfg.IngestServerAddr,
		Handler:      api.NewRouter(logger, cfg.MaxEventSize, keys, ingestUseCase, m),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting ingest server", "addr", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ingest server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ingest server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
