package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/geocell/server/internal/api"
	"github.com/geocell/server/internal/cache"
	"github.com/geocell/server/internal/config"
	"github.com/geocell/server/internal/dataset"
	"github.com/geocell/server/internal/logging"
	"github.com/geocell/server/internal/metrics"
	"github.com/geocell/server/internal/render"
	"github.com/geocell/server/internal/service"
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting GeoCell server", zap.String("version", version), zap.Int("port", cfg.Server.Port))

	m := metrics.New()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: cfg.Cache.PlotSizeMB,
		PlotTTL:         time.Duration(cfg.Cache.PlotTTLMinutes) * time.Minute,
		ViewCacheSize:   cfg.Cache.ViewEntries,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	// Initialize plot renderer (shared across all datasets)
	renderCfg := render.DefaultConfig()
	renderCfg.Width = cfg.Render.Width
	renderCfg.Height = cfg.Render.Height
	renderCfg.PointRadius = cfg.Render.PointRadius
	renderCfg.Palette = cfg.Render.Palette
	renderCfg.Opacity = cfg.Render.Opacity
	renderer, err := render.NewRenderer(renderCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	logger.Info("Initializing datasets",
		zap.Int("count", len(datasetIDs)),
		zap.String("default", cfg.Data.DefaultDataset))

	// A dataset that cannot be loaded stops the server.
	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		src, err := service.SourceFor(ds)
		if err != nil {
			return fmt.Errorf("dataset %q: %w", datasetID, err)
		}

		svc := service.NewDashboardService(service.DashboardConfig{
			DatasetID:     datasetID,
			Title:         ds.Title,
			Handle:        dataset.NewHandle(src),
			Cache:         cacheManager,
			Renderer:      renderer,
			Metrics:       m,
			Logger:        logger,
			MaxSessions:   cfg.Selection.MaxSessions,
			MaxResults:    cfg.Selection.ResultEntries,
			MaxPlotPoints: cfg.Render.MaxPoints,
		})
		if err := svc.Load(); err != nil {
			return err
		}
		registry.Register(datasetID, svc)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
		Metrics:     m,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
