package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gosimple/slug"

	"storyreel/pkg/config"
	"storyreel/pkg/model"
)

const (
	contentJSON     = "application/json"
	contentFountain = "text/plain; charset=utf-8"
)

// Slug turns a novel title into the file-name stem of its artifacts.
func Slug(title string) string {
	if s := slug.Make(title); s != "" {
		return s
	}
	return "untitled"
}

// Artifact keys, relative to the sink root.
func BibleKey(title string) string { return "story_bibles/" + Slug(title) + ".json" }
func FountainKey(title string) string { return "screenplays/" + Slug(title) + ".fountain" }
func ScreenplayJSONKey(title string) string { return "screenplays/" + Slug(title) + "_screenplay.json" }
func BreakdownKey(title string) string { return "scene_breakdowns/" + Slug(title) + "_breakdown.json" }

// Exporter serializes pipeline outputs into a Sink.
type Exporter struct {
	sink Sink
}

// New creates an Exporter.
func New(sink Sink) *Exporter {
	return &Exporter{sink: sink}
}

// FromConfig builds an Exporter that writes to the output directory and, when
// enabled, the configured bucket.
func FromConfig(ctx context.Context, cfg config.OutputConfig) (*Exporter, error) {
	dir := NewDirSink(cfg.Dir)
	if !cfg.S3.Enabled {
		return New(dir), nil
	}
	s3Sink, err := NewS3Sink(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return New(MultiSink{dir, s3Sink}), nil
}

// Bible writes the Story Bible as JSON.
func (e *Exporter) Bible(ctx context.Context, b *model.StoryBible) error {
	return e.putJSON(ctx, BibleKey(b.NovelTitle), b)
}

// Screenplay writes the Fountain document and the structured screenplay.
func (e *Exporter) Screenplay(ctx context.Context, sp *model.Screenplay) error {
	key := FountainKey(sp.NovelTitle)
	if err := e.sink.Put(ctx, key, []byte(sp.FountainText), contentFountain); err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	slog.Info("Exported artifact", "key", key, "bytes", len(sp.FountainText))
	return e.putJSON(ctx, ScreenplayJSONKey(sp.NovelTitle), sp)
}

// Breakdowns writes the scene breakdowns of a novel as one JSON array.
func (e *Exporter) Breakdowns(ctx context.Context, title string, bs []model.SceneBreakdown) error {
	if bs == nil {
		bs = []model.SceneBreakdown{}
	}
	return e.putJSON(ctx, BreakdownKey(title), bs)
}

func (e *Exporter) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := e.sink.Put(ctx, key, data, contentJSON); err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	slog.Info("Exported artifact", "key", key, "bytes", len(data))
	return nil
}
