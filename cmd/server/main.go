// Package main is the entry point for the allocation HTTP service.
//
// Startup sequence:
// 1. Load configuration and build the logger
// 2. Wire databases, market data, the optimizer service and jobs
// 3. Start the scheduler and the HTTP server
// 4. Wait for a shutdown signal and stop everything gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/di"
	optimizationhandlers "github.com/aristath/allocator/internal/modules/optimization/handlers"
	"github.com/aristath/allocator/internal/server"
	"github.com/aristath/allocator/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("default_strategy", cfg.DefaultStrategy).
		Str("fetch_policy", cfg.FetchPolicy).
		Bool("price_cache", cfg.PriceCache.Enabled).
		Msg("Starting allocator")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:            log,
		HistoryDB:      container.HistoryDB,
		Scheduler:      container.Scheduler,
		Optimization:   optimizationhandlers.NewHandler(container.OptimizerService, container.ChartService, log),
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		RequestTimeout: cfg.SolveTimeout + 30*time.Second,
	})
	if container.PruneJob != nil {
		srv.SetJobs(container.PruneJob, container.MaintenanceJob)
	}

	container.Scheduler.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if container.HistoryDB != nil {
		if err := container.HistoryDB.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Msg("Final WAL checkpoint failed")
		}
	}

	log.Info().Msg("Server stopped")
}
