package admin

import (
	"log/slog"

	"github.com/digiheadway/goposter/internal/auth"
	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/keypool"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, dbService db.Service, keys keypool.Manager, cache CacheInvalidator, clients KeyForgetter, cfg *config.Config, logger *slog.Logger) {
	handler := NewHandler(dbService, keys, cache, clients, logger)

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.AdminAuthMiddleware(cfg.Admin.Password))
	{
		keysGroup := adminGroup.Group("/api-keys")
		{
			keysGroup.GET("", handler.ListKeysHandler)
			keysGroup.POST("", handler.AddKeysHandler)
			keysGroup.DELETE("", handler.DeleteKeysHandler)
			keysGroup.POST("/restore", handler.RestoreKeysHandler)
			keysGroup.PUT("/:key/status", handler.SetKeyStatusHandler)
		}

		queriesGroup := adminGroup.Group("/queries")
		{
			queriesGroup.GET("/pending", handler.PendingQueryHandler)
			queriesGroup.POST("/:id/approve", handler.ApproveQueryHandler)
			queriesGroup.POST("/:id/disapprove", handler.DisapproveQueryHandler)
			queriesGroup.PUT("/:id/image", handler.UpdateQueryImageHandler)
			queriesGroup.POST("/:id/correct", handler.CorrectQueryHandler)
		}

		adminGroup.POST("/images", handler.AddImageHandler)
		adminGroup.GET("/stats", handler.StatsHandler)
	}
}
