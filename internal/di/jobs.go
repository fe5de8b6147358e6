package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
)

// RegisterJobs creates the scheduler and registers the cache prune and maintenance jobs
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Scheduler = scheduler.New(log)

	if container.PriceRepo == nil {
		return nil
	}

	container.PruneJob = prices.NewPruneJob(container.PriceRepo, container.HistoryDB, cfg.PriceCache.RetentionDays, log)
	if err := container.Scheduler.AddJob(cfg.PriceCache.PruneSchedule, container.PruneJob); err != nil {
		return fmt.Errorf("failed to register prune job: %w", err)
	}

	container.MaintenanceJob = reliability.NewMaintenanceJob(container.HistoryDB, cfg.PriceCache.MinFreeDiskMB, log)
	if err := container.Scheduler.AddJob(cfg.PriceCache.MaintenanceSchedule, container.MaintenanceJob); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	return nil
}
