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
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-program-sync/api/swagger"
	"github.com/noah-isme/sma-program-sync/internal/app"
	"github.com/noah-isme/sma-program-sync/internal/handler"
	"github.com/noah-isme/sma-program-sync/internal/middleware"
	"github.com/noah-isme/sma-program-sync/internal/models"
	"github.com/noah-isme/sma-program-sync/internal/service"
	"github.com/noah-isme/sma-program-sync/pkg/config"
	"github.com/noah-isme/sma-program-sync/pkg/jobs"
	"github.com/noah-isme/sma-program-sync/pkg/logger"
	reqidmiddleware "github.com/noah-isme/sma-program-sync/pkg/middleware/requestid"
)

// @title Program Sync Admin API
// @version 1.0.0
// @description Run status, on-demand runs and the revert utility of the program sync job
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to initialise application", "error", err)
	}
	defer application.Close()

	if applied, err := application.Migrate(ctx); err != nil {
		logr.Sugar().Fatalw("failed to apply migrations", "error", err)
	} else if applied > 0 {
		logr.Sugar().Infow("migrations applied", "count", applied)
	}

	runs := jobs.NewQueue("program-sync", runHandler(application.Sync, logr), jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		Logger:     logr,
	})
	runs.Start(ctx)
	defer runs.Stop()

	go schedule(ctx, runs, cfg.Sync.Interval, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, application, runs, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Sugar().Warnw("server shutdown", "error", err)
		}
	}()

	logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "interval", cfg.Sync.Interval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func newRouter(cfg *config.Config, application *app.App, runs *jobs.Queue, logr *zap.Logger) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metricsHandler := handler.NewMetricsHandler(application.Metrics, map[string]handler.Pinger{
		"database": application.DBPinger(),
		"cache":    application.Cache,
	})
	authHandler := handler.NewAuthHandler(application.Auth)
	syncHandler := handler.NewSyncHandler(application.Sync, runs)
	revertHandler := handler.NewRevertHandler(application.Confirmations, application.Location)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(application.Metrics, "/metrics"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", middleware.JWT(application.Auth), authHandler.Me)

	admin := api.Group("/admin", middleware.JWT(application.Auth))
	operators := admin.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleManager))
	operators.GET("/status", syncHandler.Status)
	operators.GET("/metrics", metricsHandler.Snapshot)
	operators.POST("/runs", syncHandler.Trigger)

	admins := admin.Group("", middleware.RequireRoles(models.RoleAdmin))
	admins.POST("/revert/confirmations", revertHandler.RequestConfirmation)
	admins.POST("/revert", revertHandler.Execute)

	return r
}

func runHandler(sync *service.SyncService, logr *zap.Logger) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		report, err := sync.Run(ctx)
		if err != nil {
			return err
		}
		logr.Sugar().Infow("run job finished",
			"job_id", job.ID,
			"run_id", report.RunID,
			"requested_by", job.Payload,
			"duration", report.FinishedAt.Sub(report.StartedAt),
		)
		return nil
	}
}

// schedule queues a run immediately and then on every tick. A tick is dropped while
// a run is still waiting in the queue.
func schedule(ctx context.Context, runs *jobs.Queue, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := runs.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: service.RunJobType, Payload: "scheduler"})
		switch {
		case errors.Is(err, jobs.ErrQueueFull):
			logr.Sugar().Infow("scheduled run skipped, previous run still queued")
		case err != nil:
			logr.Sugar().Warnw("failed to queue scheduled run", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
