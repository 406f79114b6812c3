package app

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"lance/api_insights/internal/config"
	"lance/api_insights/internal/events"
	"lance/api_insights/internal/insights"
	"lance/api_insights/internal/metrics"
	"lance/api_insights/internal/narrative"
	"lance/api_insights/internal/refresh"
	"lance/api_insights/internal/scheduler"
	"lance/api_insights/internal/store"
	"lance/pkg/database"
	"lance/pkg/kafka"
	"lance/pkg/llm"
	"lance/pkg/logging"
	"lance/pkg/monitoring"
	pkgredis "lance/pkg/redis"
)

// App holds the wired components shared by the service and the CLI.
type App struct {
	DB        *sql.DB
	Store     *store.PostgresStore
	Builder   *insights.Builder
	Refresher *refresh.Refresher
	Scheduler *scheduler.Scheduler
	Analyst   *narrative.Analyst
	Metrics   *metrics.Metrics

	Redis goredis.UniversalClient
	Kafka *kafka.Producer

	logger logging.Logger
}

type Options struct {
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
}

// New connects to Postgres and the optional redis, kafka and LLM backends and
// wires the snapshot pipeline. Optional backends that fail to connect are
// logged and left out.
func New(ctx context.Context, cfg config.Config, logger logging.Logger, mc *monitoring.MetricsCollector, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db, err := database.Connect(ctx, dbConfig, logger)
	if err != nil {
		return nil, err
	}
	a := &App{DB: db, logger: logger}

	if opts.Migrate {
		if err := database.Migrate(ctx, db, store.Migrations(), logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Metrics = metrics.New(mc)
	a.Store = store.NewPostgresStore(db)
	a.Builder = insights.NewBuilder(insights.BuilderConfig{Store: a.Store, Logger: logger})

	var sinks []events.Publisher
	if cfg.RedisURL != "" {
		client, err := pkgredis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, snapshot notifications disabled")
		} else {
			a.Redis = client
			sinks = append(sinks, events.NewRedisPublisher(pkgredis.NewTypedPubSub[events.SnapshotEvent](client, logger), logger))
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, snapshot events disabled")
		} else {
			a.Kafka = producer
			sinks = append(sinks, events.NewKafkaPublisher(producer, cfg.KafkaTopic))
		}
	}

	a.Refresher = refresh.New(refresh.Config{
		Builder:    a.Builder,
		Publisher:  events.NewMultiPublisher(a.Metrics.EventsPublished, sinks...),
		Metrics:    a.Metrics,
		Logger:     logger,
		Timeout:    cfg.BuildTimeout,
		MaxRetries: cfg.BuildMaxRetries,
	})

	a.Scheduler = scheduler.NewScheduler(scheduler.Config{
		Users:       a.Store,
		Refresher:   a.Refresher,
		Metrics:     a.Metrics,
		Logger:      logger,
		Interval:    cfg.SnapshotInterval,
		Concurrency: cfg.BuildConcurrency,
		RunOnStart:  cfg.RunOnStart,
	})

	var provider llm.Provider
	if cfg.LLM.Enabled() {
		provider, err = llm.NewProvider(ctx, cfg.LLM)
		if err != nil {
			logger.WithError(err).Warn("LLM provider unavailable, narrative analysis disabled")
			provider = nil
		}
	}
	a.Analyst = narrative.NewAnalyst(narrative.Config{
		LLM:      provider,
		Metrics:  a.Metrics,
		Logger:   logger,
		CacheTTL: cfg.NarrativeCacheTTL,
	})

	return a, nil
}

// RegisterHealthChecks adds a check per connected backend.
func (a *App) RegisterHealthChecks(hc *monitoring.HealthChecker, cfg config.Config) {
	hc.AddCheck("postgres", monitoring.DatabaseHealthCheck(a.DB))
	if a.Redis != nil {
		hc.AddCheck("redis", monitoring.PingHealthCheck("redis", pkgredis.Pinger{Client: a.Redis}, true))
	}
	if a.Kafka != nil {
		hc.AddCheck("kafka", monitoring.PingHealthCheck("kafka", a.Kafka, true))
	}
	hc.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
	}))
}

// Close stops the scheduler, cancels in-flight builds and waits for them
// before releasing connections. It is safe to call on a partly built App.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Refresher != nil {
		a.Refresher.Close()
	}
	if a.Kafka != nil {
		a.Kafka.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}

// String describes the optional backends for startup logs.
func (a *App) String() string {
	return fmt.Sprintf("redis=%t kafka=%t narrative=%t", a.Redis != nil, a.Kafka != nil, a.Analyst.Enabled())
}
