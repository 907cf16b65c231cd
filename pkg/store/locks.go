package store

import (
	"context"
	"time"
)

// --- Run Locks ---
// Timestamps are stored as unix nanoseconds so expiry comparisons stay numeric.

func (s *SQLiteStore) TryAcquireLock(ctx context.Context, novelID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_locks (novel_id, owner, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (novel_id) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		 WHERE run_locks.expires_at < excluded.acquired_at OR run_locks.owner = excluded.owner`,
		novelID, owner, now.UnixNano(), now.Add(ttl).UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, novelID, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_locks WHERE novel_id = ? AND owner = ?`, novelID, owner)
	return err
}

func (s *SQLiteStore) LockOwner(ctx context.Context, novelID string) (string, time.Time, error) {
	var owner string
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT owner, expires_at FROM run_locks WHERE novel_id = ?`, novelID).Scan(&owner, &expires)
	if err != nil {
		return "", time.Time{}, notFound(err)
	}
	return owner, time.Unix(0, expires), nil
}

func (s *SQLiteStore) PruneExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_locks WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
