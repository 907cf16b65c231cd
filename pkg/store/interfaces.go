package store

import (
	"context"
	"errors"
	"time"

	"storyreel/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// NovelStore handles ingested novel metadata.
type NovelStore interface {
	SaveNovel(ctx context.Context, n *model.Novel) error
	GetNovel(ctx context.Context, id string) (*model.Novel, error)
	GetNovelByHash(ctx context.Context, hash string) (*model.Novel, error)
	// FindNovel resolves a novel by id first, then by exact title.
	FindNovel(ctx context.Context, idOrTitle string) (*model.Novel, error)
	ListNovels(ctx context.Context) ([]model.Novel, error)
}

// ChunkStore handles narrative chunks.
type ChunkStore interface {
	// SaveChunks replaces all chunks of a novel.
	SaveChunks(ctx context.Context, novelID string, chunks []model.NarrativeChunk) error
	// GetChunks returns chunks ordered by (chapter_number, chunk_index).
	GetChunks(ctx context.Context, novelID string) ([]model.NarrativeChunk, error)
	CountChunks(ctx context.Context, novelID string) (int, error)
}

// BibleStore handles Story Bible persistence.
type BibleStore interface {
	SaveBible(ctx context.Context, novelID string, b *model.StoryBible, modelUsed string) error
	GetLatestBible(ctx context.Context, novelID string) (*model.StoryBible, error)
}

// ScreenplayStore handles screenplay persistence.
type ScreenplayStore interface {
	SaveScreenplay(ctx context.Context, sp *model.Screenplay) error
	GetLatestScreenplay(ctx context.Context, novelID string) (*model.Screenplay, error)
}

// BreakdownStore handles scene breakdown persistence.
type BreakdownStore interface {
	// SaveBreakdowns upserts breakdowns keyed by (novel, scene).
	SaveBreakdowns(ctx context.Context, novelID string, bs []model.SceneBreakdown) error
	// GetBreakdowns returns breakdowns ordered by scene number.
	GetBreakdowns(ctx context.Context, novelID string) ([]model.SceneBreakdown, error)
}

// RunStore handles pipeline run bookkeeping.
type RunStore interface {
	StartRun(ctx context.Context, run *model.PipelineRun) error
	FinishRun(ctx context.Context, id, status string, tokens int64, errMsg string) error
	ListRuns(ctx context.Context, novelID string) ([]model.PipelineRun, error)
	// FailStaleRuns marks runs still "running" that started before the cutoff as
	// failed, skipping novels whose run lock is still live.
	FailStaleRuns(ctx context.Context, before time.Time) (int64, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// LockStore handles cross-process run locks.
type LockStore interface {
	// TryAcquireLock takes the lock if it is free or expired. It reports false
	// when another owner holds a live lock.
	TryAcquireLock(ctx context.Context, novelID, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, novelID, owner string) error
	LockOwner(ctx context.Context, novelID string) (owner string, expires time.Time, err error)
	PruneExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}
