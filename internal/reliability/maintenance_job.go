// Package reliability keeps the price cache database healthy between runs.
package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/allocator/internal/database"
)

// DefaultMinFreeDiskMB is the free space below which maintenance refuses to VACUUM.
// VACUUM rewrites the whole file, so it needs roughly the database size again.
const DefaultMinFreeDiskMB = 500

// MaintenanceJob checks integrity, truncates the WAL and compacts the cache database
type MaintenanceJob struct {
	db            *database.DB
	minFreeDiskMB float64
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
	log           zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job for db
func NewMaintenanceJob(db *database.DB, minFreeDiskMB float64, log zerolog.Logger) *MaintenanceJob {
	if minFreeDiskMB <= 0 {
		minFreeDiskMB = DefaultMinFreeDiskMB
	}
	return &MaintenanceJob{
		db:            db,
		minFreeDiskMB: minFreeDiskMB,
		diskUsage:     disk.UsageWithContext,
		log:           log.With().Str("job", "cache_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "cache_maintenance"
}

// Run executes the maintenance steps. A failed integrity check halts the run;
// the remaining steps only log their failures.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting cache maintenance")
	startTime := time.Now()

	// Step 1: integrity
	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("Cache database failed health check")
		return fmt.Errorf("cache maintenance: %w", err)
	}

	// Step 2: WAL checkpoint (prevent bloat)
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	// Step 3: VACUUM, only with enough headroom
	if j.hasDiskHeadroom(ctx) {
		if err := j.vacuum(ctx); err != nil {
			j.log.Error().Err(err).Msg("VACUUM failed")
		}
	}

	j.logStats()

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Cache maintenance completed")

	return nil
}

func (j *MaintenanceJob) hasDiskHeadroom(ctx context.Context) bool {
	usage, err := j.diskUsage(ctx, filepath.Dir(j.db.Path()))
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage, skipping VACUUM")
		return false
	}

	freeMB := float64(usage.Free) / 1024 / 1024
	j.log.Debug().Float64("free_mb", freeMB).Msg("Disk space check")

	if freeMB < j.minFreeDiskMB {
		j.log.Warn().
			Float64("free_mb", freeMB).
			Float64("min_free_mb", j.minFreeDiskMB).
			Msg("Low disk space, skipping VACUUM")
		return false
	}
	return true
}

func (j *MaintenanceJob) vacuum(ctx context.Context) error {
	before, err := j.db.GetStats()
	if err != nil {
		return err
	}

	if _, err := j.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, err := j.db.GetStats()
	if err != nil {
		return err
	}

	sizeBefore := float64(before.PageCount*before.PageSize) / 1024 / 1024
	sizeAfter := float64(after.PageCount*after.PageSize) / 1024 / 1024
	j.log.Info().
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")

	return nil
}

func (j *MaintenanceJob) logStats() {
	stats, err := j.db.GetStats()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read database stats")
		return
	}
	j.log.Info().
		Str("database", j.db.Name()).
		Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
		Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
		Int64("freelist_pages", stats.FreelistCount).
		Msg("Database metrics")
}
