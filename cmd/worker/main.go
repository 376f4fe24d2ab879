package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/config"
	"cvforge/internal/database"
	"cvforge/internal/imagegen"
	"cvforge/internal/metrics"
	"cvforge/internal/observability"
	"cvforge/internal/photos"
	"cvforge/internal/security"
	"cvforge/internal/storage"
	"cvforge/internal/worker"
)

func main() {
	cfg := config.MustLoad()
	logger := observability.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	logger.Info("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init storage client: %w", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	workflowOpts := []photos.Option{
		photos.WithNotifier(worker.NewRedisNotifier(redisClient)),
		photos.WithObjectStore(storageClient),
	}
	if cfg.ImageModel.MirrorOutputs {
		mirror := imagegen.NewMirror(security.NewSafeClient(cfg.ImageModel.Timeout), storageClient)
		workflowOpts = append(workflowOpts, photos.WithMirror(mirror))
	}
	workflow := photos.NewWorkflow(db, imagegen.NewClient(cfg.ImageModel), photos.Config{
		Prompt:       cfg.ImageModel.Prompt,
		Concurrency:  cfg.ImageModel.Concurrency,
		CancelWindow: cfg.Photos.CancelWindow,
	}, logger, workflowOpts...)

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: 10,
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	worker.NewPhotoTaskHandler(workflow, logger).Register(mux)

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(mux); err != nil {
		return fmt.Errorf("run asynq server: %w", err)
	}
	return nil
}
