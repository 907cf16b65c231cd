package store

import (
	"context"
	"database/sql"
	"time"

	"storyreel/pkg/model"
)

// --- Pipeline Runs ---

func (s *SQLiteStore) StartRun(ctx context.Context, run *model.PipelineRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = model.RunRunning
	}
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, novel_id, phase, status, started_at, tokens_used, error) VALUES (?, ?, ?, ?, ?, 0, '')`,
		run.ID, run.NovelID, run.Phase, run.Status, run.StartedAt)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, tokens int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, finished_at = ?, tokens_used = ?, error = ? WHERE id = ?`,
		status, time.Now(), tokens, errMsg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, novelID string) ([]model.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, novel_id, phase, status, started_at, finished_at, tokens_used, error
		 FROM pipeline_runs WHERE novel_id = ? ORDER BY started_at, rowid`, novelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		var finished sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.NovelID, &r.Phase, &r.Status, &r.StartedAt, &finished, &r.TokensUsed, &errMsg); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FailStaleRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, finished_at = ?, error = 'abandoned'
		 WHERE status = ? AND started_at < ?
		   AND novel_id NOT IN (SELECT novel_id FROM run_locks WHERE expires_at >= ?)`,
		model.RunFailed, time.Now(), model.RunRunning, before, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
