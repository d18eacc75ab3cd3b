package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"invoicematch/internal/admin"
	"invoicematch/internal/api"
	"invoicematch/internal/catalog"
	"invoicematch/internal/config"
	"invoicematch/internal/db"
	"invoicematch/internal/extraction"
	"invoicematch/internal/invoice"
	"invoicematch/internal/ledger"
	"invoicematch/internal/logger"
	"invoicematch/internal/match"
	"invoicematch/internal/metrics"
	"invoicematch/internal/retry"
	"invoicematch/internal/scheduler"
	"invoicematch/internal/secret"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 5 * time.Second

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, invoice.Response{
					Status:  invoice.StatusError,
					Message: invoice.MessageFailed,
				})
			}
		}()
		c.Next()
	}
}

type app struct {
	router    *gin.Engine
	cache     *catalog.Cache
	scheduler *scheduler.Scheduler
}

// buildApp wires every component from cfg.
func buildApp(cfg *config.Config, log *slog.Logger, dbService db.Service, extractor extraction.Extractor, reg *prometheus.Registry) (*app, error) {
	sealer, err := secret.NewSealer(cfg.Secrets.SealingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret sealer: %w", err)
	}
	if !sealer.Enabled() {
		log.Warn("No sealing key configured, credential secrets are stored as given")
	}
	m := metrics.New(reg)

	selector, err := ledger.SelectorByName(cfg.Ledger.Selection)
	if err != nil {
		return nil, err
	}
	credentials := ledger.New(dbService,
		ledger.WithSelector(selector),
		ledger.WithSealer(sealer),
		ledger.WithWarningRatio(cfg.Ledger.WarningRatio),
		ledger.WithLogger(log),
		ledger.WithMetrics(m))

	executor, err := retry.NewExecutor(retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.RetryInitialDelay(),
		MaxDelay:     cfg.RetryMaxDelay(),
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       cfg.RetryJitter(),
	},
		retry.WithClassifier(retry.DefaultClassifier(cfg.Retry.TransientPhrases...)),
		retry.WithLogger(log),
		retry.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	cache := catalog.New(dbService,
		catalog.WithTTL(cfg.CatalogTTL()),
		catalog.WithFailureCooldown(cfg.CatalogFailureCooldown()),
		catalog.WithPreprocessor(match.Normalize),
		catalog.WithLogger(log),
		catalog.WithMetrics(m))

	scorer, err := match.ScorerByName(cfg.Match.Scorer)
	if err != nil {
		return nil, err
	}
	engine := match.NewEngine(
		match.WithMappingStore(dbService),
		match.WithLogger(log),
		match.WithMetrics(m))

	service, err := invoice.NewService(invoice.Deps{
		Ledger:         credentials,
		Executor:       executor,
		Extractor:      extractor,
		Attempts:       dbService,
		Catalog:        cache,
		Engine:         engine,
		Match:          match.MatchOptions{Scorer: scorer, K: cfg.Match.TopK, Cutoff: cfg.Match.Cutoff},
		Logger:         log,
		FallbackLogger: logger.NewFallback(cfg.Log, cfg.Debug),
	})
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(customRecovery(log))
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	api.SetupRoutes(router, service, cfg, reg, log)
	admin.SetupRoutes(router, dbService, cache, sealer, cfg, log)

	sched := scheduler.NewScheduler(cache, dbService, scheduler.Schedules{
		CatalogRefresh: cfg.Catalog.RefreshSchedule,
		QuotaReport:    cfg.Scheduler.QuotaReport,
	}, log)

	return &app{router: router, cache: cache, scheduler: sched}, nil
}

// run serves until ctx ends, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger, dbService db.Service, extractor extraction.Extractor) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := buildApp(cfg, log, dbService, extractor, reg)
	if err != nil {
		return err
	}

	if snap, err := a.cache.Get(ctx); err != nil {
		log.Warn("Catalog pre-warm failed, will retry on first request", "error", err)
	} else {
		log.Info("Catalog loaded", "items", snap.Len())
	}

	if err := a.scheduler.Start(); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server exiting")
	return nil
}

func main() {
	cfg, warning, err := config.LoadConfig("config.yaml")
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Log, cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	if warning != "" {
		log.Warn(warning)
	}

	dbService, err := db.NewService(cfg.Database)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	extractor := extraction.NewGemini(cfg.Extraction.Model,
		extraction.WithTimeout(cfg.ExtractionTimeout()),
		extraction.WithLogger(log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, dbService, extractor); err != nil {
		log.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
