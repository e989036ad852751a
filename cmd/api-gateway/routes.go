package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/internal/handler"
	"github.com/noah-isme/clinic-queue-api/internal/middleware"
	"github.com/noah-isme/clinic-queue-api/internal/models"
	"github.com/noah-isme/clinic-queue-api/internal/service"
	"github.com/noah-isme/clinic-queue-api/pkg/config"
	"github.com/noah-isme/clinic-queue-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/clinic-queue-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/clinic-queue-api/pkg/middleware/requestid"
)

type routerDeps struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *service.MetricsService
	tokens  middleware.TokenValidator

	auth    *handler.AuthHandler
	queue   *handler.QueueHandler
	stream  *handler.QueueStreamHandler
	metricz *handler.MetricsHandler
}

var (
	queueOperators = []models.UserRole{models.RoleAdmin, models.RoleDoctor, models.RoleNurse, models.RoleReceptionist}
	queueClinical  = []models.UserRole{models.RoleAdmin, models.RoleDoctor, models.RoleNurse}
)

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.logger))
	r.Use(corsmiddleware.New(d.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", d.metricz.Health)
	r.GET("/ready", d.metricz.Ready)
	if d.cfg.Metrics.Enabled {
		r.GET(d.cfg.Metrics.Path, d.metricz.Prometheus)
	}
	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(d.cfg.APIPrefix)
	api.POST("/auth/login", d.auth.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(d.tokens))
	secured.GET("/auth/me", d.auth.Me)

	queues := secured.Group("/queues", middleware.RequireRoles(queueOperators...))
	queues.POST("/entries", d.queue.Join)
	queues.GET("/entries/:id", d.queue.Get)
	queues.POST("/entries/:id/transition", d.queue.Transition)
	queues.POST("/entries/:id/notes", d.queue.AppendNote)
	queues.POST("/entries/:id/boost", middleware.RequireRoles(queueClinical...), d.queue.Boost)

	queues.GET("/providers/:providerId", d.queue.ProviderSnapshot)
	queues.GET("/providers/:providerId/export", d.queue.Export)
	queues.GET("/providers/:providerId/ws", d.stream.ProviderStream)
	queues.POST("/providers/:providerId/rescan", middleware.RequireRoles(queueClinical...), d.queue.Rescan)

	queues.GET("/locations/:locationId", d.queue.LocationSnapshot)
	queues.GET("/locations/:locationId/ws", d.stream.LocationStream)

	return r
}
