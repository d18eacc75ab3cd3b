package api

import (
	"log/slog"

	"invoicematch/internal/auth"
	"invoicematch/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, p Processor, cfg *config.Config, gatherer prometheus.Gatherer, logger *slog.Logger) {
	handler := NewHandler(p, logger)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.MaxMultipartMemory = MaxUploadBytes
	router.GET("/", handler.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	client := router.Group("")
	client.Use(auth.ClientTokenMiddleware(cfg.Auth.ClientTokens))
	client.POST("/extract", handler.ExtractHandler)
}
