package admin

import (
	"log/slog"

	"invoicematch/internal/auth"
	"invoicematch/internal/config"
	"invoicematch/internal/db"
	"invoicematch/internal/secret"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, dbService db.Service, cache CatalogCache, sealer *secret.Sealer, cfg *config.Config, logger *slog.Logger) {
	handler := NewHandler(dbService, cache, sealer, logger)

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.AdminAuthMiddleware(cfg.Admin.Password))
	{
		credentials := adminGroup.Group("/credentials")
		{
			credentials.GET("", handler.ListCredentialsHandler)
			credentials.POST("", handler.CreateCredentialHandler)
			credentials.PUT("/:id/status", handler.UpdateCredentialStatusHandler)
			credentials.GET("/:id/usage", handler.GetCredentialUsageHandler)
		}

		adminGroup.GET("/usage", handler.ListUsageSummariesHandler)
		adminGroup.GET("/retry-attempts", handler.ListRetryAttemptsHandler)

		catalogGroup := adminGroup.Group("/catalog")
		{
			catalogGroup.GET("", handler.CatalogStatsHandler)
			catalogGroup.POST("/invalidate", handler.InvalidateCatalogHandler)
			catalogGroup.POST("/refresh", handler.RefreshCatalogHandler)
			catalogGroup.POST("/entries", handler.UpsertCatalogEntriesHandler)
		}

		adminGroup.POST("/mappings", handler.CreateMappingHandler)
	}
}
