package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"taxi/internal/handler"
	"taxi/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	MonitorHandler *handler.MonitorHandler
	AdminHandler   *handler.AdminHandler
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
}

// NewRouter creates the Gin router for the operator surface.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus metrics.
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Read-only operator views.
	v1 := router.Group("/v1")
	{
		v1.GET("/presence", deps.MonitorHandler.GetPresence)

		calls := v1.Group("/calls")
		{
			calls.GET("/open", deps.MonitorHandler.GetOpenCalls)
			calls.GET("/:id", deps.MonitorHandler.GetCall)
		}

		v1.GET("/actors/:id/rating", deps.MonitorHandler.GetRating)
		v1.GET("/history", deps.MonitorHandler.GetHistory)
		v1.GET("/monitor/calls", deps.MonitorHandler.StreamOpenCalls)
	}

	// Destructive operator actions; idempotency keys shield retries.
	adminGroup := router.Group("/admin")
	adminGroup.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	{
		adminGroup.POST("/reset", deps.AdminHandler.Reset)
	}

	return router
}
