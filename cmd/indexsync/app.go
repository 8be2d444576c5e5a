package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/indexsync/internal/adapters/driven/algolia"
	"github.com/custodia-labs/indexsync/internal/adapters/driven/auth"
	"github.com/custodia-labs/indexsync/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/indexsync/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/indexsync/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/indexsync/internal/adapters/driven/redis"
	"github.com/custodia-labs/indexsync/internal/adapters/driving/http"
	"github.com/custodia-labs/indexsync/internal/config"
	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
	"github.com/custodia-labs/indexsync/internal/core/services"
	"github.com/custodia-labs/indexsync/internal/extract"
	"github.com/custodia-labs/indexsync/internal/metrics"
	"github.com/custodia-labs/indexsync/internal/worker"
)

// connectTimeout bounds how long startup waits for Postgres and Redis
const connectTimeout = time.Minute

// app holds the wired dependencies shared by every command
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client
	registry    *prometheus.Registry

	taskQueue   driven.TaskQueue
	incremental *services.IncrementalSync
	reindexer   *services.ReindexController
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("indexsync starting", "version", version, "index", cfg.Algolia.IndexName)

	a := &app{cfg: cfg, logger: logger}

	// ===== PostgreSQL =====
	a.db, err = backoff.Retry(ctx, func() (*postgres.DB, error) {
		return postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(connectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("database not reachable, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := a.db.InitSchema(ctx); err != nil {
		a.close()
		return nil, err
	}
	logger.Info("PostgreSQL connected and schema initialized")

	// ===== Redis (optional) =====
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("Redis connected")
	}

	// ===== Queue, lock and report store (Redis if available, otherwise PostgreSQL) =====
	lockOwner := "indexsync:" + cfg.Algolia.IndexName
	var (
		lock   driven.DistributedLock
		states driven.ProcessingStateStore
	)
	if a.redisClient != nil {
		hostname, _ := os.Hostname()
		a.taskQueue, err = redisqueue.NewQueue(ctx, a.redisClient, fmt.Sprintf("%s-%d", hostname, os.Getpid()))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create task queue: %w", err)
		}
		lock = redisadapter.NewLockWithOwner(a.redisClient, lockOwner)
		states = redisadapter.NewStateStore(a.redisClient)
		logger.Info("Using Redis task queue, lock and state store")
	} else {
		a.taskQueue = postgresqueue.NewQueue(a.db.DB)
		lock = postgres.NewLeaseLock(a.db, lockOwner)
		states = postgres.NewStateStore(a.db)
		logger.Info("Using PostgreSQL task queue, lock and state store")
	}

	// ===== Search service =====
	algoliaCfg := algolia.DefaultConfig(cfg.Algolia.AppID, cfg.Algolia.APIKey)
	algoliaCfg.BaseURL = cfg.Algolia.BaseURL
	algoliaCfg.UserAgent = "indexsync/" + version
	client := algolia.NewClient(algoliaCfg)
	if err := client.HealthCheck(ctx); err != nil {
		logger.Warn("search service health check failed", "error", err)
	}

	// ===== Extraction pipeline =====
	transform := extract.DefaultTransformConfig()
	transform.BearerToken = cfg.TransformToken
	extractor := extract.NewDefault(extract.Config{
		Fields:       cfg.Fields,
		TransformURL: cfg.TransformURL,
		Transform:    transform,
	})

	source := postgres.NewDocumentSource(a.db, cfg.CollectionPath)

	// ===== Services =====
	a.incremental = services.NewIncrementalSync(services.IncrementalSyncConfig{
		Index:          client.InitIndex(cfg.Algolia.IndexName),
		Extractor:      extractor,
		Source:         source,
		TrackedFields:  cfg.Fields,
		ForceDataSync:  cfg.ForceDataSync,
		CollectionPath: cfg.CollectionPath,
		Logger:         logger,
	})
	a.reindexer = services.NewReindexController(services.ReindexControllerConfig{
		Client:             client,
		IndexName:          cfg.Algolia.IndexName,
		Extractor:          extractor,
		Source:             source,
		Queue:              a.taskQueue,
		States:             states,
		Lock:               lock,
		Enabled:            cfg.FullIndexing,
		ReplaceAll:         cfg.ReplaceAllFullIndexing,
		ExtractConcurrency: cfg.ExtractConcurrency,
		Logger:             logger,
	})

	// ===== Metrics =====
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(a.registry)

	return a, nil
}

// bootstrap triggers a full reindex, tolerating one already in progress.
func (a *app) bootstrap(ctx context.Context) {
	task, err := a.reindexer.Trigger(ctx)
	switch {
	case errors.Is(err, domain.ErrReindexInProgress):
		a.logger.Info("full reindex already in progress, not bootstrapping")
	case err != nil:
		a.logger.Error("failed to trigger bootstrap reindex", "error", err)
	default:
		a.logger.Info("bootstrap reindex queued", "task_id", task.ID)
	}
}

// httpServer builds the API. w is the in-process worker, or nil in api mode.
func (a *app) httpServer(w *worker.Worker) *http.Server {
	deps := http.Deps{
		ChangeHandler: a.incremental,
		Reindexer:     a.reindexer,
		Auth:          auth.NewAdapter(a.cfg.JWTSecret),
		TaskQueue:     a.taskQueue,
		DB:            a.db,
		Gatherer:      a.registry,
		Logger:        a.logger,
	}
	if a.redisClient != nil {
		deps.Redis = redisPinger{a.redisClient}
	}
	if w != nil {
		deps.Worker = w
	}

	return http.NewServer(http.Config{
		Host:    "0.0.0.0",
		Port:    a.cfg.Port,
		Version: version,
	}, deps)
}

func (a *app) worker() *worker.Worker {
	return worker.NewWorker(worker.WorkerConfig{
		TaskQueue:      a.taskQueue,
		Reindexer:      a.reindexer,
		Logger:         a.logger,
		Concurrency:    a.cfg.WorkerConcurrency,
		DequeueTimeout: a.cfg.WorkerDequeueTimeout,
	})
}

// changeFeed returns nil unless CHANGE_FEED is enabled.
func (a *app) changeFeed() *postgres.ChangeFeed {
	if !a.cfg.ChangeFeed {
		return nil
	}
	return postgres.NewChangeFeed(a.db, a.incremental, postgres.ChangeFeedConfig{
		URL:    a.cfg.DatabaseURL,
		Logger: a.logger,
	})
}

func (a *app) close() {
	if a.taskQueue != nil {
		_ = a.taskQueue.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// redisPinger adapts the redis client to the server's health check
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
