// Package app wires the backend shared by the server, the worker and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/client"
	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/config"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/service"
	"github.com/tubepost/api/internal/store"
	"github.com/tubepost/api/internal/worker"
)

// ErrRedisRequired is returned by components that cannot run on the memory backend
var ErrRedisRequired = errors.New("store.driver=redis is required")

// Backend bundles the state store and the side-effect feeds
type Backend struct {
	// nil on the memory backend
	Redis         *redis.Client
	Store         store.Store
	Badges        notify.BadgeFeed
	Notifications notify.NotificationFeed
}

// NewBackend connects the configured driver
func NewBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Backend, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		return NewMemoryBackend(cfg.Notify.HistorySize), nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("redis not available at %s: %w", cfg.Redis.Addr, err)
	}

	prefix := cfg.Redis.KeyPrefix
	return &Backend{
		Redis:         redisClient,
		Store:         store.NewRedisStore(redisClient, prefix, log),
		Badges:        notify.NewRedisIndicator(redisClient, prefix, log),
		Notifications: notify.NewRedisNotifier(redisClient, prefix, cfg.Notify.HistorySize, log),
	}, nil
}

// NewMemoryBackend keeps everything in process memory
func NewMemoryBackend(history int64) *Backend {
	return &Backend{
		Store:         store.NewMemoryStore(),
		Badges:        notify.NewMemoryIndicator(),
		Notifications: notify.NewMemoryNotifier(history),
	}
}

// Close releases the Redis connection, if any
func (b *Backend) Close() error {
	if b.Redis == nil {
		return nil
	}
	return b.Redis.Close()
}

// NewOrchestrator builds the orchestrator on top of the backend
func (b *Backend) NewOrchestrator(cfg *config.Config, log logrus.FieldLogger) *service.Orchestrator {
	gen := client.NewGenerationClient(&cfg.Generation, log)
	return service.NewOrchestrator(b.Store, gen, b.Badges, b.Notifications, log)
}

// RedisOpt is the asynq connection for cfg
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// WorkerConcurrency is at least two, so a reset is handled while a job runs
func WorkerConcurrency(cfg *config.Config) int {
	if cfg.Worker.Concurrency < 2 {
		return 2
	}
	return cfg.Worker.Concurrency
}

// RunWorker consumes generation commands until ctx is done
func RunWorker(ctx context.Context, cfg *config.Config, orch *service.Orchestrator, log *logrus.Logger) error {
	if cfg.Store.Driver == config.StoreDriverMemory {
		return ErrRedisRequired
	}
	wlog := logger.Component(log, "worker")

	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover state: %w", err)
	}

	srv := asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency: WorkerConcurrency(cfg),
		Queues: map[string]int{
			command.Queue: 1,
		},
		Logger:   log,
		LogLevel: logger.AsynqLevel(cfg.Server.LogLevel),
		// let a running job resolve before exiting
		ShutdownTimeout: cfg.Generation.Timeout + 10*time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			wlog.WithError(err).WithField("task_type", task.Type()).Error("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	worker.NewGenerationWorker(orch, log).Register(mux)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	wlog.WithField("concurrency", WorkerConcurrency(cfg)).Info("worker started")

	<-ctx.Done()
	wlog.Info("shutting down worker")
	srv.Shutdown()
	return nil
}
