package config

import (
	"errors"
	"time"

	"lance/pkg/config"
	"lance/pkg/llm"
)

// Config stores environment configuration for the insights service.
type Config struct {
	Port              string
	DatabaseURL       string
	ServiceToken      string
	BuildConcurrency  int
	SnapshotInterval  time.Duration
	RunOnStart        bool
	BuildTimeout      time.Duration
	BuildMaxRetries   int
	RedisURL          string
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaClientID     string
	LLM               llm.Config
	NarrativeCacheTTL time.Duration
}

// LoadConfig reads the service configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:              config.GetEnv("PORT", "18040"),
		DatabaseURL:       config.GetEnv("DATABASE_URL", ""),
		ServiceToken:      config.GetEnv("SERVICE_TOKEN", ""),
		BuildConcurrency:  config.GetEnvInt("BUILD_CONCURRENCY", 4),
		SnapshotInterval:  config.GetEnvDuration("SNAPSHOT_INTERVAL", 7*24*time.Hour),
		RunOnStart:        config.GetEnvBool("SNAPSHOT_RUN_ON_START", false),
		BuildTimeout:      config.GetEnvDuration("BUILD_TIMEOUT", 2*time.Minute),
		BuildMaxRetries:   config.GetEnvInt("BUILD_MAX_RETRIES", 2),
		RedisURL:          config.GetEnv("REDIS_URL", ""),
		KafkaBrokers:      config.GetEnvList("KAFKA_BROKERS"),
		KafkaTopic:        config.GetEnv("KAFKA_TOPIC", "insight_snapshots"),
		KafkaClientID:     config.GetEnv("KAFKA_CLIENT_ID", "insights"),
		LLM:               llm.LoadConfig(),
		NarrativeCacheTTL: config.GetEnvDuration("NARRATIVE_CACHE_TTL", time.Hour),
	}
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.BuildConcurrency < 1 {
		errs = append(errs, errors.New("BUILD_CONCURRENCY must be at least 1"))
	}
	if c.BuildMaxRetries < 0 {
		errs = append(errs, errors.New("BUILD_MAX_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}
