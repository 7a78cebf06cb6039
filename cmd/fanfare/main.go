package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/app"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/leadership"
	"github.com/fanfare-hq/fanfare/internal/ledger"
	"github.com/fanfare-hq/fanfare/internal/notify"
	"github.com/fanfare-hq/fanfare/internal/observability"
	"github.com/fanfare-hq/fanfare/internal/platform/cache"
	"github.com/fanfare-hq/fanfare/internal/platform/db"
	"github.com/fanfare-hq/fanfare/internal/roles"
	"github.com/fanfare-hq/fanfare/internal/shared"
	"github.com/fanfare-hq/fanfare/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PoolConfig())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cfg.RedisOptions()
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "fanfare_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	identityRepo := identity.NewRepository(dbpool)
	identityService, err := identity.NewService(identityRepo, []byte(cfg.SessionTokenKey), cfg.SessionTTL, logger)
	if err != nil {
		logger.Error("init identity", slog.Any("error", err))
		os.Exit(1)
	}
	identityHandler := identity.NewHandler(logger, identityService, sessionManager, csrfManager)

	jobClient, err := jobs.NewClient(redisOpts.QueueOpt(), cfg.NotifyMaxRetry)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	dispatcher := notify.NewDispatcher(notify.NewQueueSink(jobClient), logger, metrics)

	leadershipRepo := leadership.NewRepository(dbpool)
	ledgerRepo := ledger.NewRepository(dbpool)
	accessService := access.NewService(ledgerRepo, leadershipRepo, metrics, logger)

	leadershipService := leadership.NewService(leadershipRepo, accessService, dispatcher, auditLogger, logger)
	leadershipHandler := leadership.NewHandler(logger, leadershipService)

	ledgerService := ledger.NewService(ledgerRepo, leadershipRepo, accessService, auditLogger, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	notifyService := notify.NewService(notify.NewRepository(dbpool))
	notifyHandler := notify.NewHandler(logger, notifyService)

	inspector := asynq.NewInspector(redisOpts.QueueOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		IdentityService:     identityService,
		IdentityHandler:     identityHandler,
		LeadershipHandler:   leadershipHandler,
		LedgerHandler:       ledgerHandler,
		NotificationHandler: notifyHandler,
		RolesHandler:        roles.NewHandler(logger),
		JobHandler:          jobHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	dispatcher.Wait()
}
