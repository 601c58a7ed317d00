package main

import (
	"askable/internal/catalog"
	"askable/internal/database"
	"askable/internal/metrics"
	"askable/internal/router"
	"askable/internal/services"
	"askable/pkg/config"
	"askable/pkg/logger"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting askable security check server...")

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		if err := database.CloseRunQueue(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	if err := database.PingRedis(5 * time.Second); err != nil {
		appLogger.Fatalf("Failed to connect Redis: %v", err)
	}

	// 加载检查项目录
	cat, err := catalog.Load(cfg.Catalog.CategoriesFile, cfg.Catalog.MappingFile)
	if err != nil {
		appLogger.Fatalf("Failed to load check catalog: %v", err)
	}
	appLogger.Infof("Check catalog loaded: %d services", len(cat.Services()))

	gin.SetMode(cfg.Server.Mode)

	db := database.GetDB()
	runQueue := database.GetRunQueue()
	pipeline := services.NewPipeline(cat, cfg.Runner, appLogger)
	runService := services.NewRunService(db, runQueue, pipeline, appLogger)

	// 上次退出时未结束的执行标记为失败
	if _, err := runService.RecoverInterrupted(); err != nil {
		appLogger.Errorf("Failed to recover interrupted runs: %v", err)
	}
	if _, err := runService.Requeue(context.Background()); err != nil {
		appLogger.Errorf("Failed to requeue runs: %v", err)
	}

	worker := services.NewRunWorker(db, runQueue, pipeline, metrics.NewCollector(), appLogger)
	worker.Start()
	defer worker.Stop()

	scheduler := services.NewScheduleService(db, runService, appLogger)
	if err := scheduler.Start(); err != nil {
		appLogger.Errorf("Failed to start scheduler: %v", err)
		// 不影响主服务启动
	}
	defer scheduler.Stop()

	r := router.SetupRouter(router.Dependencies{
		Config:     cfg,
		Log:        appLogger,
		Catalog:    cat,
		Runs:       runService,
		Schedules:  scheduler,
		Subscriber: runQueue,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
