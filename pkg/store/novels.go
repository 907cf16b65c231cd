package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyreel/pkg/model"
)

// --- Novels ---

func (s *SQLiteStore) SaveNovel(ctx context.Context, n *model.Novel) error {
	if err := n.Validate(); err != nil {
		return err
	}
	ingestedAt := n.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now()
	}
	query := `INSERT OR REPLACE INTO novels (id, title, file_path, file_hash, word_count, chapter_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, n.ID, n.Title, n.FilePath, n.FileHash, n.WordCount, n.ChapterCount, ingestedAt)
	return err
}

const novelColumns = `id, title, file_path, file_hash, word_count, chapter_count, ingested_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNovel(row rowScanner) (*model.Novel, error) {
	var n model.Novel
	if err := row.Scan(&n.ID, &n.Title, &n.FilePath, &n.FileHash, &n.WordCount, &n.ChapterCount, &n.IngestedAt); err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (s *SQLiteStore) GetNovel(ctx context.Context, id string) (*model.Novel, error) {
	return scanNovel(s.db.QueryRowContext(ctx, `SELECT `+novelColumns+` FROM novels WHERE id = ?`, id))
}

func (s *SQLiteStore) GetNovelByHash(ctx context.Context, hash string) (*model.Novel, error) {
	return scanNovel(s.db.QueryRowContext(ctx, `SELECT `+novelColumns+` FROM novels WHERE file_hash = ?`, hash))
}

func (s *SQLiteStore) FindNovel(ctx context.Context, idOrTitle string) (*model.Novel, error) {
	n, err := s.GetNovel(ctx, idOrTitle)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	n, err = scanNovel(s.db.QueryRowContext(ctx,
		`SELECT `+novelColumns+` FROM novels WHERE title = ? ORDER BY ingested_at DESC LIMIT 1`, idOrTitle))
	if err != nil {
		return nil, fmt.Errorf("novel %q: %w", idOrTitle, err)
	}
	return n, nil
}

func (s *SQLiteStore) ListNovels(ctx context.Context) ([]model.Novel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+novelColumns+` FROM novels ORDER BY ingested_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Novel
	for rows.Next() {
		n, err := scanNovel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// --- Chunks ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, novelID string, chunks []model.NarrativeChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE novel_id = ?", novelID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, novel_id, chapter_number, chunk_index, text, token_count, start_char, end_char)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ChunkID, novelID, c.ChapterNumber, c.ChunkIndex, c.Text, c.TokenCount, c.StartChar, c.EndChar); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetChunks(ctx context.Context, novelID string) ([]model.NarrativeChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT c.id, n.title, c.chapter_number, c.chunk_index, c.text, c.token_count, c.start_char, c.end_char
		FROM chunks c LEFT JOIN novels n ON n.id = c.novel_id
		WHERE c.novel_id = ?
		ORDER BY c.chapter_number, c.chunk_index`, novelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NarrativeChunk
	for rows.Next() {
		var c model.NarrativeChunk
		var title *string
		if err := rows.Scan(&c.ChunkID, &title, &c.ChapterNumber, &c.ChunkIndex, &c.Text, &c.TokenCount, &c.StartChar, &c.EndChar); err != nil {
			return nil, err
		}
		if title != nil {
			c.NovelTitle = *title
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountChunks(ctx context.Context, novelID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM chunks WHERE novel_id = ?", novelID).Scan(&n)
	return n, err
}
