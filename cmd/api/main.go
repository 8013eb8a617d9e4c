package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/request-service/internal/api/http"
	"github.com/spec-kit/request-service/internal/api/http/handlers"
	"github.com/spec-kit/request-service/internal/auth"
	"github.com/spec-kit/request-service/internal/config"
	"github.com/spec-kit/request-service/internal/events"
	"github.com/spec-kit/request-service/internal/observability"
	"github.com/spec-kit/request-service/internal/persistence"
	"github.com/spec-kit/request-service/internal/queue"
	"github.com/spec-kit/request-service/internal/repository"
	"github.com/spec-kit/request-service/internal/scheduler"
	"github.com/spec-kit/request-service/internal/service"
	"github.com/spec-kit/request-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	requestRepo := repository.NewRequestRepository(pool)
	historyRepo := repository.NewHistoryRepository(pool)
	slaRepo := repository.NewSLARepository(pool)
	exemptionRepo := repository.NewExemptionRepository(pool)
	jobRepo := repository.NewJobRepository(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	policies := queue.DefaultPolicies()

	authService := service.NewAuthService(*cfg, userRepo)
	requestService := service.NewRequestService(service.RequestDependencies{
		RequestRepo: requestRepo,
		HistoryRepo: historyRepo,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	slaService := service.NewSLAService(service.SLADependencies{
		RequestRepo:   requestRepo,
		HistoryRepo:   historyRepo,
		SLARepo:       slaRepo,
		ExemptionRepo: exemptionRepo,
		Dispatcher:    dispatcher,
		Redis:         redis.ClientHandle(),
		Metrics:       metrics,
		Logger:        logger,
	})
	dispatchService := service.NewDispatchService(jobRepo, policies, redis.ClientHandle(), logger, time.Now)
	dispatchService.RegisterHandlers(dispatcher)
	notifier := service.NewNotificationService(logger, cfg.Notification)

	workerPool := worker.NewPool(worker.PoolDependencies{
		Jobs:     jobRepo,
		Policies: policies,
		Logger:   logger,
		Metrics:  metrics,
		Config:   cfg.Worker,
	})
	jobHandlers := worker.NewHandlers(worker.HandlerDependencies{
		Requests: requestRepo,
		History:  historyRepo,
		Users:    userRepo,
		SLA:      slaService,
		Notifier: notifier,
		Logger:   logger,
		Config:   *cfg,
	})
	jobHandlers.RegisterAll(workerPool)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	periodic := scheduler.New(cfg.Scheduler, dispatchService, logger)
	periodic.Start(ctx)
	defer periodic.Stop()

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Requests:       handlers.NewRequestsHandler(requestService),
		SLA:            handlers.NewSLAHandler(slaService, requestService),
		Jobs:           handlers.NewJobsHandler(jobRepo, dispatchService, metrics),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
