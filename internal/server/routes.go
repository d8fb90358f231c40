package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/digiheadway/goposter/internal/auth"
	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the public API. details serves /api/movie/:id and
// /api/tv/:id.
func SetupRoutes(router *gin.Engine, searcher Searcher, dbService db.Service, details http.Handler, cfg *config.Config, logger *slog.Logger) {
	handler := NewHandler(searcher, dbService, cfg.Search.CookieMaxAge, logger)

	router.GET("/healthz", handler.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("")
	public.Use(auth.CORSMiddleware())
	{
		public.GET("/search.php", handler.SearchHandler)

		api := public.Group("/api")
		{
			api.GET("/search", handler.SearchHandler)
			api.GET("/normalize", handler.NormalizeHandler)
			api.POST("/feedback/not-this", handler.NotThisHandler)
			api.POST("/feedback/down-tried", handler.DownTriedHandler)
			if details != nil {
				api.GET("/movie/:id", gin.WrapH(details))
				api.GET("/tv/:id", gin.WrapH(details))
			}
		}
	}
}

// MetricsMiddleware records request latency by route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
