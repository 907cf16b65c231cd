package maintenance

import (
	"context"
	"log/slog"
	"time"

	"storyreel/pkg/store"
)

// Store is the subset of the repository maintenance needs.
type Store interface {
	store.RunStore
	store.LockStore
}

// Run clears state left behind by crashed runs: expired run locks and
// pipeline runs stuck in "running" for longer than the lock TTL.
// Failures are logged and never block startup.
func Run(ctx context.Context, s Store, lockTTL time.Duration) error {
	slog.Info("Starting database maintenance...")
	now := time.Now()

	if n, err := s.PruneExpiredLocks(ctx, now); err != nil {
		slog.Error("Lock pruning failed", "error", err)
	} else if n > 0 {
		slog.Info("Pruned expired run locks", "count", n)
	}

	if lockTTL > 0 {
		if n, err := s.FailStaleRuns(ctx, now.Add(-lockTTL)); err != nil {
			slog.Error("Stale run cleanup failed", "error", err)
		} else if n > 0 {
			slog.Warn("Marked abandoned pipeline runs as failed", "count", n)
		}
	}

	return nil
}
