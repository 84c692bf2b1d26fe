package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/upturn/internal/app"
	"github.com/lgulliver/upturn/internal/middleware"
	"github.com/lgulliver/upturn/pkg/auth"
	"github.com/lgulliver/upturn/pkg/config"
	"github.com/lgulliver/upturn/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting upturn API gateway")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := app.New(cfg, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	router := setupRouter(newGateway(a), registry)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to release services")
	}
	log.Info().Msg("Server shutdown complete")
}

// gateway exposes the pipeline over HTTP
type gateway struct {
	app          *app.App
	apiKeyHashes []string
}

func newGateway(a *app.App) *gateway {
	hashes := make([]string, 0, len(a.Config.Server.APIKeys))
	for i, key := range a.Config.Server.APIKeys {
		if !auth.ValidateAPIKeyFormat(key) {
			log.Warn().Int("index", i).Msg("API key was not produced by upturn keygen")
		}
		hashes = append(hashes, utils.HashAPIKey(key))
	}
	return &gateway{app: a, apiKeyHashes: hashes}
}

func setupRouter(g *gateway, gatherer prometheus.Gatherer) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"service":     "upturn-api-gateway",
			"downloading": g.app.Tracker.Downloading(),
			"time":        time.Now().UTC(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API routes
	api := router.Group("/api/v1")
	if len(g.apiKeyHashes) > 0 {
		api.Use(apiKeyMiddleware(g.apiKeyHashes))
	}
	{
		downloads := api.Group("/downloads")
		{
			downloads.POST("", g.handleStartDownload)
			downloads.GET("", g.handleListDownloads)
			downloads.GET("/stats", g.handleDownloadStats)
			downloads.GET("/:id", g.handleGetDownload)
			downloads.DELETE("/:id", g.handleForgetDownload)
		}

		images := api.Group("/images")
		images.Use(middleware.BlobRefValidation("ref"))
		{
			images.GET("", g.handleListImages)
			images.GET("/:ref", g.handleRenderImage)
			images.GET("/:ref/bounds", g.handleImageBounds)
		}
	}

	return router
}
