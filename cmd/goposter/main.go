package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/digiheadway/goposter/internal/admin"
	"github.com/digiheadway/goposter/internal/auth"
	"github.com/digiheadway/goposter/internal/cache"
	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/googlesearch"
	"github.com/digiheadway/goposter/internal/keypool"
	"github.com/digiheadway/goposter/internal/logger"
	"github.com/digiheadway/goposter/internal/proxy"
	"github.com/digiheadway/goposter/internal/scheduler"
	"github.com/digiheadway/goposter/internal/search"
	"github.com/digiheadway/goposter/internal/server"
	"github.com/digiheadway/goposter/internal/tmdb"

	"github.com/gin-gonic/gin"
)

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
					"request_id", auth.RequestID(c),
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func main() {
	configPath := os.Getenv("GOPOSTER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, warnings, err := config.LoadConfig(configPath)
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	for _, w := range warnings {
		log.Warn(w)
	}

	// Initialize database
	dbService, err := db.NewService(cfg.Database)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	if err := setupAndRunServer(cfg, log, dbService); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// newRouter wires every component onto a gin engine. The returned cleanup
// releases background resources.
func newRouter(cfg *config.Config, log *slog.Logger, dbService db.Service) (*gin.Engine, *scheduler.Scheduler, func(), error) {
	pool := keypool.NewPool(dbService, cfg.Search, log)

	posterCache := cache.New(cfg.Redis)
	if posterCache.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := posterCache.Ping(ctx); err != nil {
			log.Warn("Redis unreachable, shared cache misses until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
	}

	var posters tmdb.PosterFinder
	if client := tmdb.NewClient(cfg.TMDB, cfg.Search.Timeout()); client != nil {
		posters = client
	}

	google := googlesearch.NewClient(cfg.Search, cfg.Google, log)
	searchService := search.NewService(dbService, pool, google, posters, posterCache, cfg.Search, log)

	details, err := proxy.NewTMDBProxy(cfg.TMDB, log)
	if err != nil {
		posterCache.Close()
		return nil, nil, nil, fmt.Errorf("failed to create TMDB proxy: %w", err)
	}

	sched := scheduler.NewScheduler(dbService, pool, cfg.Scheduler, log)

	// Create a Gin router
	router := gin.New()
	// Use our custom recovery middleware instead of the default one.
	router.Use(auth.RequestIDMiddleware(), customRecovery(log), server.MetricsMiddleware())

	// If debug mode is enabled, add the logger middleware
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	server.SetupRoutes(router, searchService, dbService, details, cfg, log)
	admin.SetupRoutes(router, dbService, pool, searchService, google, cfg, log)

	cleanup := func() {
		if err := posterCache.Close(); err != nil {
			log.Warn("Failed to close redis client", "error", err)
		}
	}
	return router, sched, cleanup, nil
}

func setupAndRunServer(cfg *config.Config, log *slog.Logger, dbService db.Service) error {
	router, sched, cleanup, err := newRouter(cfg, log, dbService)
	if err != nil {
		return err
	}
	defer cleanup()

	// Start the scheduler
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()
	log.Info("Scheduler started", "key_restore_spec", cfg.Scheduler.KeyRestoreSpec)

	// Create and start the main server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	log.Info("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exiting")
	return nil
}
