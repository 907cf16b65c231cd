package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storyreel/pkg/model"
)

// Artifacts are stored as gzip-compressed JSON and validated on the way in and out.

func encodeArtifact(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress(raw)
}

func decodeArtifact(data []byte, v any) error {
	raw, err := maybeDecompress(data)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// --- Story Bibles ---

func (s *SQLiteStore) SaveBible(ctx context.Context, novelID string, b *model.StoryBible, modelUsed string) error {
	if err := b.Validate(); err != nil {
		return err
	}
	blob, err := encodeArtifact(b)
	if err != nil {
		return fmt.Errorf("encode story bible: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO story_bibles (id, novel_id, bible_json, created_at, model_used) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), novelID, blob, time.Now(), modelUsed)
	return err
}

func (s *SQLiteStore) GetLatestBible(ctx context.Context, novelID string) (*model.StoryBible, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT bible_json FROM story_bibles WHERE novel_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, novelID).Scan(&blob)
	if err != nil {
		return nil, notFound(err)
	}
	var b model.StoryBible
	if err := decodeArtifact(blob, &b); err != nil {
		return nil, fmt.Errorf("decode story bible: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// --- Screenplays ---

func (s *SQLiteStore) SaveScreenplay(ctx context.Context, sp *model.Screenplay) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	blob, err := encodeArtifact(sp)
	if err != nil {
		return fmt.Errorf("encode screenplay: %w", err)
	}
	createdAt := sp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO screenplays (id, novel_id, screenplay_json, scene_count, page_count_estimate, created_at, model_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sp.ScreenplayID, sp.NovelID, blob, sp.SceneCount, sp.PageCountEstimate, createdAt, sp.ModelUsed)
	return err
}

func (s *SQLiteStore) GetLatestScreenplay(ctx context.Context, novelID string) (*model.Screenplay, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT screenplay_json FROM screenplays WHERE novel_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, novelID).Scan(&blob)
	if err != nil {
		return nil, notFound(err)
	}
	var sp model.Screenplay
	if err := decodeArtifact(blob, &sp); err != nil {
		return nil, fmt.Errorf("decode screenplay: %w", err)
	}
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	return &sp, nil
}

// --- Scene Breakdowns ---

func (s *SQLiteStore) SaveBreakdowns(ctx context.Context, novelID string, bs []model.SceneBreakdown) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scene_breakdowns
		(id, novel_id, scene_id, scene_number, breakdown_json, prompt_ready, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (novel_id, scene_id) DO UPDATE SET
			id = excluded.id,
			scene_number = excluded.scene_number,
			breakdown_json = excluded.breakdown_json,
			prompt_ready = excluded.prompt_ready,
			created_at = excluded.created_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range bs {
		b := &bs[i]
		if err := b.Validate(); err != nil {
			return fmt.Errorf("breakdown for scene %d: %w", b.SceneNumber, err)
		}
		blob, err := encodeArtifact(b)
		if err != nil {
			return fmt.Errorf("encode breakdown: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, b.BreakdownID, novelID, b.SceneID, b.SceneNumber, blob, b.PromptReady, now); err != nil {
			return fmt.Errorf("save breakdown for scene %d: %w", b.SceneNumber, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetBreakdowns(ctx context.Context, novelID string) ([]model.SceneBreakdown, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT breakdown_json FROM scene_breakdowns WHERE novel_id = ? ORDER BY scene_number`, novelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SceneBreakdown
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var b model.SceneBreakdown
		if err := decodeArtifact(blob, &b); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
