package delivery

import (
	"time"

	"metaetl/internal/delivery/middleware"
	"metaetl/pkg/logger"
	"metaetl/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type HTTPRouter struct {
	handlers *HTTPHandlers
	logger   *logger.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

func NewHTTPRouter(handlers *HTTPHandlers, logger *logger.Logger, metrics *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPRouter {
	return &HTTPRouter{
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
		gatherer: gatherer,
	}
}

func (r *HTTPRouter) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.Recovery(r.logger))
	router.Use(middleware.Metrics(r.metrics))
	router.Use(middleware.Timeout(30 * time.Second))

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Content-Type", middleware.RequestIDHeader}
	config.ExposeHeaders = []string{middleware.RequestIDHeader}

	router.Use(cors.New(config))

	// Health endpoint
	router.GET("/health", r.handlers.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/", r.handlers.GetAPIInfo)
		v1.GET("", r.handlers.GetAPIInfo)

		v1.POST("/ingest/run", r.handlers.IngestRun)
		v1.GET("/cycles/last", r.handlers.GetLastCycle)

		insights := v1.Group("/insights")
		{
			insights.GET("", r.handlers.GetInsights)
			insights.GET("/summary", r.handlers.GetInsightsSummary)
		}
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler(r.gatherer))

	return router
}
