package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/api"
	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/blog"
	"cvforge/internal/config"
	"cvforge/internal/database"
	"cvforge/internal/imagegen"
	"cvforge/internal/observability"
	"cvforge/internal/photos"
	"cvforge/internal/resume"
	"cvforge/internal/security"
	"cvforge/internal/stats"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
	"cvforge/internal/templates"
	"cvforge/internal/users"
	"cvforge/internal/worker"
)

func main() {
	cfg := config.MustLoad()
	logger := observability.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	logger.Info("api bootstrapping",
		slog.String("db_host", cfg.Database.Host),
		slog.Int("db_port", cfg.Database.Port),
		slog.String("db_name", cfg.Database.Name),
	)
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db, logger); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap database: %w", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init storage client: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// 通知与限流均为尽力而为，Redis 不可用时 API 仍可启动
		logger.Warn("redis unavailable", slog.String("addr", cfg.Redis.Addr()), slog.Any("error", err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	sessions, err := auth.NewSessionVerifier([]byte(cfg.Auth.JWTPublicKeyPEM), cfg.Auth.Issuer, cfg.Auth.AuthorizedParties)
	if err != nil {
		return fmt.Errorf("init session verifier: %w", err)
	}
	var webhooks *auth.WebhookVerifier
	if cfg.Auth.WebhookSecret != "" {
		if webhooks, err = auth.NewWebhookVerifier(cfg.Auth.WebhookSecret); err != nil {
			return fmt.Errorf("init webhook verifier: %w", err)
		}
	}
	var profiles users.ProfileFetcher
	if cfg.Auth.APIBaseURL != "" && cfg.Auth.APIKey != "" {
		profiles = auth.NewProfileClient(cfg.Auth.APIBaseURL, cfg.Auth.APIKey, cfg.Auth.RequestTimeout)
	}
	directory := users.NewDirectory(db, profiles, logger, users.WithReconcileAfter(cfg.Auth.ReconcileAfter))

	catalog := templates.NewCatalog(db)

	workflowOpts := []photos.Option{
		photos.WithNotifier(worker.NewRedisNotifier(redisClient)),
		photos.WithScheduler(tasks.NewScheduler(asynqClient)),
		photos.WithObjectStore(storageClient),
		photos.WithRateCounter(redisClient),
	}
	if cfg.ImageModel.MirrorOutputs {
		mirror := imagegen.NewMirror(security.NewSafeClient(cfg.ImageModel.Timeout), storageClient)
		workflowOpts = append(workflowOpts, photos.WithMirror(mirror))
	}
	workflow := photos.NewWorkflow(db, imagegen.NewClient(cfg.ImageModel), photos.Config{
		Prompt:          cfg.ImageModel.Prompt,
		Concurrency:     cfg.ImageModel.Concurrency,
		CancelWindow:    cfg.Photos.CancelWindow,
		DailyLimit:      cfg.Photos.DailyLimit,
		MaxPerOperation: cfg.Photos.MaxPerOperation,
	}, logger, workflowOpts...)

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Dependencies{
		Logger:          logger,
		Sessions:        sessions,
		Webhooks:        webhooks,
		Users:           directory,
		CVs:             resume.NewStore(db, catalog, cfg.CV.MaxPerUser),
		Templates:       catalog,
		Photos:          workflow,
		Blog:            blog.NewStore(db, security.NewSanitizer()),
		Stats:           stats.NewService(db),
		Intake:          api.NewImageIntake(storageClient, security.NewScanner(cfg.Clamd.Addr), cfg.MinIO.MaxUploadBytes),
		Redis:           redisClient,
		RateLimiter:     middleware.NewRateLimiter(cfg.API.RequestsPerMinute),
		AllowedOrigins:  cfg.API.AllowedOrigins,
		InternalSecret:  cfg.Internal.Secret,
		AsyncProcessing: cfg.Photos.AsyncProcessing,
		Readiness: map[string]api.ReadinessCheck{
			"database": sqlDB.PingContext,
			"storage":  storageClient.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
