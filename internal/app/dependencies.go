package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/vaayugo-api/internal/config"
	"github.com/noah-isme/vaayugo-api/internal/obs"
	"github.com/noah-isme/vaayugo-api/internal/ratelimit"
)

// Dependencies holds the infrastructure clients shared by the API and the worker.
type Dependencies struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Tasks        *asynq.Client
	TaskRedis    asynq.RedisConnOpt
	LimiterStore limiter.Store
	Registerer   prometheus.Registerer
}

// Options tweak how Open connects.
type Options struct {
	ApplicationName string
	ConnectTimeout  time.Duration
	Metrics         bool
}

// Open connects to Postgres and Redis and prepares the task client. Close releases everything.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deps := &Dependencies{Registerer: prometheus.DefaultRegisterer}

	pool, err := NewPool(ctx, cfg.DatabaseURL, opts.ApplicationName)
	if err != nil {
		return nil, err
	}
	deps.DB = pool

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	deps.Redis = redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(deps.Redis); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.Metrics {
		if err := redisotel.InstrumentMetrics(deps.Redis); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := deps.Redis.Ping(ctx).Err(); err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	taskRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("parse task redis uri: %w", err)
	}
	deps.TaskRedis = taskRedis
	deps.Tasks = asynq.NewClient(taskRedis)

	store, err := ratelimit.NewRedisStore(deps.Redis)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	deps.LimiterStore = store
	return deps, nil
}

// NewPool opens a traced pgx pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if applicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// Close releases every client that was opened.
func (d *Dependencies) Close(logger zerolog.Logger) {
	if d == nil {
		return
	}
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
