package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidramz/price-tracker/backend/internal/api/handlers"
	"github.com/davidramz/price-tracker/backend/internal/auth"
	"github.com/davidramz/price-tracker/backend/internal/config"
	"github.com/davidramz/price-tracker/backend/internal/metrics"
	"github.com/davidramz/price-tracker/backend/internal/services"
)

func SetupRouter(cfg *config.Config, sweepWorker *services.SweepWorker, dispatcher *services.Dispatcher, ingestService *services.IngestService, catalogService *services.CatalogService) *gin.Engine {
	router := gin.Default()
	router.Use(metricsMiddleware())

	// CORS: the sweep triggers come from a scheduler, everything else
	// from mobile clients, so preflight must always succeed
	corsConfig := cors.DefaultConfig()
	if cfg.CORSOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.CORSOrigins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	// Initialize handlers
	sweepHandler := handlers.NewSweepHandler(sweepWorker)
	alertHandler := handlers.NewAlertHandler(dispatcher)
	productHandler := handlers.NewProductHandler(ingestService, catalogService)

	// API routes
	api := router.Group("/api")
	{
		// Scheduler-facing routes (no user identity involved)
		sweep := api.Group("/sweep")
		{
			sweep.POST("/run", sweepHandler.RunSweep)
			sweep.GET("/status", sweepHandler.GetStatus)
		}
		api.POST("/alerts/dispatch", alertHandler.DispatchAlerts)

		// User-facing routes
		authed := api.Group("")
		authed.Use(auth.Middleware(cfg.AuthSecret))
		{
			authed.POST("/products", productHandler.AddProduct)
			authed.GET("/products", productHandler.ListProducts)
			authed.GET("/products/:id/history", productHandler.GetHistory)
			authed.PUT("/products/:id/target", productHandler.SetTarget)
			authed.POST("/devices", productHandler.RegisterDevice)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// metricsMiddleware records request counts and latency per route.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
