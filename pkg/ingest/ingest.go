// Package ingest loads manuscripts, splits them into chapters and token
// windows, and stores the result.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyreel/pkg/config"
	"storyreel/pkg/model"
	"storyreel/pkg/store"
)

// Store is what the ingester persists into.
type Store interface {
	store.NovelStore
	store.ChunkStore
}

// Result reports an ingestion.
type Result struct {
	Novel    *model.Novel
	Chunks   int
	Existing bool // the file was ingested before and nothing was written
}

// Ingester turns files into stored novels and chunks.
type Ingester struct {
	store   Store
	chunker Chunker
}

// New creates an Ingester.
func New(s Store, c Chunker) *Ingester {
	return &Ingester{store: s, chunker: c}
}

// NewFromConfig creates an Ingester using the configured window sizes.
func NewFromConfig(s Store, cfg config.IngestConfig) *Ingester {
	c := DefaultChunker()
	if cfg.ChunkTokens > 0 {
		c.Size = cfg.ChunkTokens
	}
	if cfg.OverlapTokens >= 0 && cfg.OverlapTokens < c.Size {
		c.Overlap = cfg.OverlapTokens
	}
	return New(s, c)
}

// Ingest stores the file at path. A file whose contents were ingested before
// is not stored again. An empty title is derived from the file name.
func (in *Ingester) Ingest(ctx context.Context, path, title string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := in.store.GetNovelByHash(ctx, hash)
	switch {
	case err == nil:
		n, cerr := in.store.CountChunks(ctx, existing.ID)
		if cerr != nil {
			return nil, cerr
		}
		slog.Info("Novel already ingested", "novel_id", existing.ID, "title", existing.Title, "chunks", n)
		return &Result{Novel: existing, Chunks: n, Existing: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	text, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("%s contains no text", filepath.Base(path))
	}
	if title == "" {
		title = TitleFromPath(path)
	}

	chapters := SplitChapters(text)
	chunks := in.chunker.Chunk(title, chapters)

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	novel := &model.Novel{
		ID:           uuid.NewString(),
		Title:        title,
		FilePath:     abs,
		FileHash:     hash,
		WordCount:    len(strings.Fields(text)),
		ChapterCount: len(chapters),
		IngestedAt:   time.Now().UTC(),
	}
	if err := in.store.SaveNovel(ctx, novel); err != nil {
		return nil, fmt.Errorf("save novel: %w", err)
	}
	if err := in.store.SaveChunks(ctx, novel.ID, chunks); err != nil {
		return nil, fmt.Errorf("save chunks: %w", err)
	}

	slog.Info("Novel ingested",
		"novel_id", novel.ID,
		"title", novel.Title,
		"words", novel.WordCount,
		"chapters", novel.ChapterCount,
		"chunks", len(chunks))
	return &Result{Novel: novel, Chunks: len(chunks)}, nil
}

// TitleFromPath derives a title from a file name: "the_time-machine.txt"
// becomes "the time machine".
func TitleFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
