package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/server/handlers"
)

// Handlers groups the HTTP adapters. Notifications may be nil.
type Handlers struct {
	Sync          *handlers.SyncHandler
	Farmers       *handlers.FarmerHandler
	Cycles        *handlers.CycleHandler
	Dashboard     *handlers.DashboardHandler
	Notifications *handlers.NotificationHandler
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if h.Notifications != nil {
		r.POST("/send-message", h.Notifications.SendMessage)
	}

	r.GET("/api/cron/update-feed", h.Sync.CronUpdate)

	api := r.Group("/api", handlers.RequireUser())
	api.POST("/sync", h.Sync.Sync)
	api.GET("/sync/reports", h.Sync.Reports)
	api.GET("/dashboard", h.Dashboard.Summary)

	farmers := api.Group("/farmers")
	farmers.POST("", h.Farmers.Create)
	farmers.GET("", h.Farmers.List)
	farmers.POST("/:id/stock", h.Farmers.AddStock)
	farmers.GET("/:id/logs", h.Farmers.Logs)

	cycles := api.Group("/cycles")
	cycles.POST("", h.Cycles.Start)
	cycles.GET("", h.Cycles.List)
	cycles.GET("/:id", h.Cycles.Get)
	cycles.POST("/:id/mortality", h.Cycles.AddMortality)
	cycles.POST("/:id/feed", h.Cycles.AddFeed)
	cycles.POST("/:id/end", h.Cycles.End)
	cycles.DELETE("/:id", h.Cycles.Delete)

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
