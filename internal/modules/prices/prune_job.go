package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/database"
)

// PruneJob deletes cached prices older than the retention window.
// Implements scheduler.Job.
type PruneJob struct {
	repo          *Repository
	db            *database.DB
	retentionDays int
	now           func() time.Time
	log           zerolog.Logger
}

// NewPruneJob creates a new prune job
func NewPruneJob(repo *Repository, db *database.DB, retentionDays int, log zerolog.Logger) *PruneJob {
	return &PruneJob{
		repo:          repo,
		db:            db,
		retentionDays: retentionDays,
		now:           time.Now,
		log:           log.With().Str("job", "price_cache_prune").Logger(),
	}
}

// Name implements scheduler.Job
func (j *PruneJob) Name() string {
	return "price_cache_prune"
}

// Run implements scheduler.Job
func (j *PruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)

	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune price cache: %w", err)
	}

	if deleted > 0 && j.db != nil {
		if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Msg("WAL checkpoint after prune failed")
		}
	}

	j.log.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Price cache pruned")

	return nil
}
