package router

import (
	"askable/internal/catalog"
	"askable/internal/handlers"
	"askable/internal/metrics"
	"askable/internal/middleware"
	"askable/internal/services"
	"askable/pkg/config"
	"askable/pkg/response"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Dependencies 路由依赖的服务
type Dependencies struct {
	Config     *config.Config
	Log        *logrus.Logger
	Catalog    *catalog.Catalog
	Runs       *services.RunService
	Schedules  *services.ScheduleService
	Subscriber handlers.LogSubscriber
}

// SetupRouter 设置路由
func SetupRouter(deps Dependencies) *gin.Engine {
	handlers.RegisterValidators()
	router := gin.New()

	// 中间件
	router.Use(middleware.RequestLogger(deps.Log))
	router.Use(middleware.ErrorHandler(deps.Log))
	router.Use(middleware.SetupCORS(deps.Config.CORS))

	registerRoutes(router, deps)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, deps Dependencies) {
	if deps.Config.Metrics.Enabled {
		router.GET(deps.Config.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// 检查项目录
		catalogHandler := handlers.NewCatalogHandler(deps.Catalog)
		catalogGroup := api.Group("/catalog")
		{
			catalogGroup.GET("", catalogHandler.Tree)
			catalogGroup.POST("/count", catalogHandler.Count)
		}

		// 主机清单
		inventoryHandler := handlers.NewInventoryHandler()
		api.POST("/inventory/parse", inventoryHandler.Parse)

		// 执行
		runHandler := handlers.NewRunHandler(deps.Runs)
		wsHandler := handlers.NewWebSocketHandler(deps.Subscriber, deps.Runs, deps.Config.CORS.AllowOrigins, deps.Log)
		runs := api.Group("/runs")
		{
			runs.POST("", runHandler.Create)
			runs.GET("", runHandler.List)
			runs.GET("/:id", runHandler.Get)
			runs.GET("/:id/report", runHandler.Report)
			runs.GET("/:id/logs", runHandler.Logs)
			runs.GET("/:id/stream", wsHandler.RunStream)
		}

		// 定时执行
		scheduleHandler := handlers.NewScheduleHandler(deps.Schedules)
		schedules := api.Group("/schedules")
		{
			schedules.POST("", scheduleHandler.Create)
			schedules.GET("", scheduleHandler.List)
			schedules.DELETE("/:id", scheduleHandler.Delete)
			schedules.POST("/:id/enable", scheduleHandler.Enable)
			schedules.POST("/:id/disable", scheduleHandler.Disable)
			schedules.POST("/:id/trigger", scheduleHandler.Trigger)
		}
	}
}

func healthCheck(c *gin.Context) {
	response.Success(c, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "askable",
		"version":   "1.0.0",
	})
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}
