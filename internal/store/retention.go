package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/scangate/models"
)

// PurgeOlderThan deletes terminal runs (and everything they own) whose
// completion time predates cutoff. Non-terminal runs are never purged
// regardless of age.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	type idRow struct {
		RunID string `db:"run_id"`
	}
	var stale []idRow
	err := s.db.Select(ctx, &stale,
		`SELECT run_id FROM security_runs
		 WHERE status IN (?, ?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		models.RunCompleted, models.RunFailed, models.RunTimeout, models.RunCancelled,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("selecting stale runs: %w", err)
	}

	purged := 0
	for _, row := range stale {
		if err := s.purgeRun(ctx, row.RunID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// RunSweep applies the retention policy once and logs the outcome.
func (s *Store) RunSweep(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := s.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Retention sweep purged runs", "count", n, "older_than_days", retentionDays)
	}
}
