package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/argos/internal/adapter/embedding"
	"github.com/V4T54L/argos/internal/adapter/metrics"
	"github.com/V4T54L/argos/internal/adapter/publisher"
	"github.com/V4T54L/argos/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/argos/internal/adapter/repository/redis"
	"github.com/V4T54L/argos/internal/clustering"
	"github.com/V4T54L/argos/internal/escalation"
	"github.com/V4T54L/argos/internal/pkg/config"
	"github.com/V4T54L/argos/internal/pkg/logger"
	"github.com/V4T54L/argos/internal/similarity"
	"github.com/V4T54L/argos/internal/usecase"
)

// app holds the engine's wired collaborators.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB
	redis     *redis.Client
	store     *postgres.Store
	stream    *redisrepo.EventStream
	publisher *publisher.KafkaPublisher
	tracker   *escalation.Tracker
	metrics   *metrics.EngineMetrics
	cycle     *usecase.RunCycleUseCase
}

// openStore connects to Postgres only; migrate needs nothing else.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, *postgres.Store, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return db, postgres.NewStore(db, logger), nil
}

func newApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	log := logger.New(cfg.LogLevel)

	db, store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("connected to postgres")

	rc, err := redisrepo.NewClient(cfg.RedisAddr)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := rc.Ping(ctx).Err(); err != nil {
		db.Close()
		rc.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("connected to redis")

	stream := redisrepo.NewEventStream(rc, redisrepo.StreamConfig{
		Stream:   cfg.Stream.Events,
		DLQ:      cfg.Stream.DLQ,
		Group:    cfg.Stream.Group,
		Consumer: cfg.Stream.Consumer,
		MaxLen:   cfg.Stream.MaxLen,
	}, nil, log)

	tuning := &cfg.Tuning
	sim := similarity.NewEngine(tuning.Similarity(), store, log)

	var algo clustering.Algorithm
	if ext, ok := tuning.ExternalClustering(); ok {
		algo = clustering.NewExternal(ext, log)
	}
	clusterer := clustering.NewEngine(tuning.Clustering(), sim, algo, log)
	tracker := escalation.NewTracker(tuning.Escalation())

	pub := publisher.NewKafkaPublisher(publisher.Config{
		Brokers:      cfg.Kafka.Brokers,
		ClusterTopic: cfg.Kafka.ClusterTopic,
		ZoneTopic:    cfg.Kafka.ZoneTopic,
	}, log)

	m := metrics.NewEngineMetrics(reg)

	deps := usecase.RunCycleDeps{
		Source:     stream,
		Quarantine: stream,
		Zones:      store,
		Writer:     store,
		Seen:       redisrepo.NewSeenRepository(rc, cfg.Stream.SeenPrefix, cfg.SeenTTL),
		Locker:     redisrepo.NewZoneLocker(rc, cfg.Stream.LockPrefix, cfg.ZoneLockTTL, log),
		Publisher:  pub,
		Observer:   m,
		Similarity: sim,
		Clustering: clusterer,
		Tracker:    tracker,
	}
	// Left as a nil interface when disabled; events then carry their own
	// embeddings or none.
	if cfg.Embedding.Endpoint != "" {
		deps.Embedder = embedding.NewClient(embedding.Config{
			Endpoint:       cfg.Embedding.Endpoint,
			Model:          cfg.Embedding.Model,
			APIKey:         cfg.Embedding.APIKey,
			Dims:           cfg.Embedding.Dims,
			Timeout:        cfg.Embedding.Timeout,
			RPS:            cfg.Embedding.RPS,
			Burst:          cfg.Embedding.Burst,
			MaxConcurrency: tuning.MaxConcurrency,
		}, log)
	} else {
		log.Warn("EMBEDDING_ENDPOINT not set, similarity falls back to structured features")
	}

	return &app{
		cfg:       cfg,
		logger:    log,
		db:        db,
		redis:     rc,
		store:     store,
		stream:    stream,
		publisher: pub,
		tracker:   tracker,
		metrics:   m,
		cycle:     usecase.NewRunCycleUseCase(deps, tuning.Cycle(cfg.Embedding.Dims), log),
	}, nil
}

// runOnce runs a cycle and logs its summary.
func (a *app) runOnce(ctx context.Context) error {
	start := time.Now()
	summary, err := a.cycle.RunCycle(ctx)
	if err != nil {
		a.logger.Error("cycle failed", "error", err, "cycle_id", summary.CycleID)
		return err
	}
	a.logger.Info("cycle complete",
		"cycle_id", summary.CycleID,
		"events_in", summary.EventsIn,
		"duplicates", summary.DuplicatesFound,
		"cross_lingual", summary.CrossLingualMatches,
		"new_clusters", summary.NewClusters,
		"clusters_updated", summary.ClustersUpdated,
		"zones_updated", summary.ZonesUpdated,
		"skipped", summary.Skipped,
		"errors", summary.ErrorCount(),
		"duration", time.Since(start),
	)
	return nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("failed to close publisher", "error", err)
	}
	a.redis.Close()
	a.db.Close()
}
