// Package lock provides per-novel run locks that hold across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"storyreel/pkg/store"
)

// ErrLocked is returned when another owner holds a live lock on the novel.
var ErrLocked = errors.New("novel is locked by another run")

// Locker hands out leases backed by a LockStore.
type Locker struct {
	store store.LockStore
	ttl   time.Duration
	owner string
}

// New creates a Locker. Leases expire after ttl unless released.
func New(s store.LockStore, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Locker{store: s, ttl: ttl, owner: ownerID()}
}

// Owner identifies this process in the lock table.
func (l *Locker) Owner() string { return l.owner }

// Lease is a held lock.
type Lease struct {
	l       *Locker
	novelID string
}

// Acquire takes the lock for novelID. Re-acquiring a lock this Locker already
// holds extends it.
func (l *Locker) Acquire(ctx context.Context, novelID string) (*Lease, error) {
	ok, err := l.store.TryAcquireLock(ctx, novelID, l.owner, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", novelID, err)
	}
	if !ok {
		holder, expires, herr := l.store.LockOwner(ctx, novelID)
		if herr != nil {
			return nil, fmt.Errorf("%w: %s", ErrLocked, novelID)
		}
		return nil, fmt.Errorf("%w: %s held by %s until %s", ErrLocked, novelID, holder, expires.Format(time.RFC3339))
	}
	slog.Debug("Lock acquired", "novel_id", novelID, "owner", l.owner, "ttl", l.ttl)
	return &Lease{l: l, novelID: novelID}, nil
}

// Release gives the lock up. It uses a fresh context so a cancelled run still
// frees its lock.
func (ls *Lease) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ls.l.store.ReleaseLock(ctx, ls.novelID, ls.l.owner); err != nil {
		slog.Warn("Failed to release lock", "novel_id", ls.novelID, "error", err)
		return err
	}
	slog.Debug("Lock released", "novel_id", ls.novelID)
	return nil
}

// Refresh extends the lease by the locker's TTL. It fails with ErrLocked when
// the lease lapsed and another owner took the novel.
func (ls *Lease) Refresh(ctx context.Context) error {
	ok, err := ls.l.store.TryAcquireLock(ctx, ls.novelID, ls.l.owner, ls.l.ttl)
	if err != nil {
		return fmt.Errorf("failed to refresh lock for %s: %w", ls.novelID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s was taken over", ErrLocked, ls.novelID)
	}
	return nil
}

// KeepAlive refreshes the lease every third of the TTL until stop is called
// or ctx is done. stop waits for the refresher to exit.
func (ls *Lease) KeepAlive(ctx context.Context) (stop func()) {
	every := ls.l.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ls.Refresh(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("Failed to refresh lock", "novel_id", ls.novelID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func ownerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}
