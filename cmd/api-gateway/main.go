package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/clinic-queue-api/api/swagger"
	"github.com/noah-isme/clinic-queue-api/internal/handler"
	"github.com/noah-isme/clinic-queue-api/internal/repository"
	"github.com/noah-isme/clinic-queue-api/internal/service"
	"github.com/noah-isme/clinic-queue-api/pkg/cache"
	"github.com/noah-isme/clinic-queue-api/pkg/config"
	"github.com/noah-isme/clinic-queue-api/pkg/database"
	"github.com/noah-isme/clinic-queue-api/pkg/jobs"
	"github.com/noah-isme/clinic-queue-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/clinic-queue-api/pkg/middleware/cors"
)

// @title Clinic Queue API
// @version 1.0.0
// @description Patient queue priority scheduler
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	var redisClient redis.UniversalClient
	if client, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
		logr.Warn("redis unavailable, continuing without cache and fan-out", zap.Error(err))
	} else if client != nil {
		redisClient = client
		defer client.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	queueRepo := repository.NewQueueEntryRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	staffRepo := repository.NewStaffUserRepository(db)

	cacheRepo := repository.NewCacheRepository(redisClient, "queue", logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Queue.AverageCacheTTL, logr, redisClient != nil)
	estimator := service.NewWaitEstimator(queueRepo, cacheSvc, service.WaitEstimatorConfig{
		Window:          cfg.Queue.HistoryWindow,
		FallbackMinutes: cfg.Queue.FallbackServiceMinutes,
		CacheTTL:        cfg.Queue.AverageCacheTTL,
	}, logr)

	registry := service.NewSnapshotRegistry(cfg.Queue.SubscriberBuffer, metrics)
	var broadcaster service.SnapshotBroadcaster = service.NewLocalBroadcaster(registry)
	if cfg.Queue.RedisFanout && redisClient != nil {
		redisBroadcaster := service.NewRedisBroadcaster(repository.NewSnapshotChannel(redisClient, "", logr), registry, logr)
		go redisBroadcaster.Relay(ctx)
		broadcaster = redisBroadcaster
	}
	snapshots := service.NewSnapshotService(queueRepo, directoryRepo, estimator, registry, broadcaster, metrics, logr)

	var notifier *service.NotificationDispatcher
	if cfg.Notifications.Enabled {
		notifier = service.NewNotificationDispatcher(service.NewLogNotifier(logr), jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		})
		notifier.Start(ctx)
		defer notifier.Stop()
	}

	queueDeps := service.QueueServiceDeps{
		Store:     queueRepo,
		Directory: directoryRepo,
		Scorer:    service.NewPriorityScorer(service.WeightsFromConfig(cfg.Queue.Weights)),
		Averages:  estimator,
		Publisher: snapshots,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr,
	}
	if notifier != nil {
		queueDeps.Notifier = notifier
	}
	queues := service.NewQueueService(queueDeps, service.QueueServiceConfig{
		BoostIncrement: cfg.Queue.BoostIncrement,
		RetryAttempts:  cfg.Queue.RankRetryAttempts,
		RetryBackoff:   cfg.Queue.RankRetryBackoff,
	})
	go service.NewRescanScheduler(queues, cfg.Queue.RescanInterval, logr).Run(ctx)

	auth := service.NewAuthService(staffRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	exporter := service.NewExportService(snapshots, logr)

	router := newRouter(routerDeps{
		cfg:     cfg,
		logger:  logr,
		metrics: metrics,
		tokens:  auth,
		auth:    handler.NewAuthHandler(auth),
		queue:   handler.NewQueueHandler(queues, snapshots, exporter),
		stream: handler.NewQueueStreamHandler(snapshots, handler.StreamConfig{
			PongWait:    cfg.Queue.WebSocketPongWait,
			PingPeriod:  cfg.Queue.WebSocketPingPeriod,
			CheckOrigin: corsmiddleware.OriginChecker(cfg.CORS.AllowedOrigins),
		}, logr),
		metricz: handler.NewMetricsHandler(metrics, db),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
