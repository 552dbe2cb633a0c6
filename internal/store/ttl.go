package store

import (
	"context"
	"log/slog"
	"time"
)

// snapshotCleanupInterval is how often expired session snapshots are purged.
const snapshotCleanupInterval = 10 * time.Minute

// StartSnapshotCleanupWorker deletes session snapshots untouched for longer
// than ttl until ctx is done. A non-positive ttl keeps snapshots forever.
func StartSnapshotCleanupWorker(ctx context.Context, repo Repository, ttl time.Duration) {
	if ttl <= 0 {
		slog.Info("Snapshot cleanup disabled")
		return
	}

	ticker := time.NewTicker(snapshotCleanupInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Snapshot cleanup worker started", "interval", snapshotCleanupInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpiredSnapshots(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Snapshot cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpiredSnapshots(ctx context.Context, repo Repository, ttl time.Duration) int64 {
	n, err := repo.CleanupExpiredSnapshots(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Snapshot cleanup interrupted", "error", err)
			return 0
		}
		slog.Error("Snapshot cleanup failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Expired session snapshots removed", "count", n)
	}
	return n
}
