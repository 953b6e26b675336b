package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-timetable-api/api/swagger"
	"github.com/noah-isme/sma-timetable-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/requestid"
)

// @title SMA Timetable API
// @version 1.0.0
// @description Automated school timetable generation and clash validation
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const (
	shutdownTimeout = 30 * time.Second
	// queueTimeoutSlack leaves room to persist a result after the budget expires.
	queueTimeoutSlack = 30 * time.Second
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, progress is written to postgres only", "error", err)
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Scheduler.ProgressTTL, logr, cacheRepo.Enabled())
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	jobRepo := repository.NewGenerationJobRepository(db)
	sources := service.TimetableSources{
		Slots:       repository.NewTimeSlotRepository(db),
		Allocations: repository.NewAllocationRepository(db),
		Divisions:   repository.NewDivisionRepository(db),
		Constraints: repository.NewTeacherConstraintRepository(db),
		Entries:     repository.NewTimetableEntryRepository(db),
	}
	timetableCfg := service.TimetableConfig{
		TimeBudget:       cfg.Scheduler.TimeBudget,
		DailyCap:         cfg.Scheduler.DailyCap,
		WorkingDays:      cfg.Scheduler.WorkingDays,
		ProgressInterval: cfg.Scheduler.ProgressInterval,
		ProgressTTL:      cfg.Scheduler.ProgressTTL,
		StrictScope:      cfg.Scheduler.StrictScope,
	}

	worker := service.NewGenerationWorker(jobRepo, sources, cacheSvc, metricsSvc, logr, timetableCfg)
	queue := jobs.NewQueue("timetable-generation", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Scheduler.WorkerConcurrency,
		MaxRetries: cfg.Scheduler.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Timeout:    cfg.Scheduler.TimeBudget + queueTimeoutSlack,
		OnFailure:  worker.HandleFailure,
		Logger:     logr,
	})
	metricsSvc.TrackQueueDepth(queue.Pending)

	timetableSvc := service.NewTimetableService(jobRepo, sources, queue, cacheSvc, db, validator.New(), logr, timetableCfg)
	if cfg.Scheduler.Enabled {
		queue.Start(ctx)
		defer queue.Stop()
		timetableSvc.RecoverPendingJobs(ctx)
	} else {
		logr.Sugar().Warnw("timetable generation disabled, jobs stay queued")
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
		"redis":    cacheRepo.Ping,
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(authSvc), internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	handler.RegisterTimetableRoutes(api, handler.NewTimetableHandler(timetableSvc), logr, cfg.Scheduler.Enabled)
	api.GET("/metrics/summary", metricsHandler.Summary)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown", "error", err)
	}
}
