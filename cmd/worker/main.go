package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fanfare-hq/fanfare/internal/app"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/notify"
	"github.com/fanfare-hq/fanfare/internal/observability"
	"github.com/fanfare-hq/fanfare/internal/platform/db"
	"github.com/fanfare-hq/fanfare/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PoolConfig())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	identityService, err := identity.NewService(identity.NewRepository(pool), []byte(cfg.SessionTokenKey), cfg.SessionTTL, logger)
	if err != nil {
		logger.Error("init identity", slog.Any("error", err))
		os.Exit(1)
	}
	purgeJob := identity.NewPurgeJob(identityService, logger, metrics.Jobs())
	deliveryJob := notify.NewTaskHandler(notify.NewRepository(pool), logger, metrics.Jobs())

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOptions().QueueOpt(),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			deliveryJob.Registration(),
			purgeJob.Registration(),
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: jobs.NewSessionPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
