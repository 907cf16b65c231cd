// Package screenplay adapts novel chunks into a Fountain screenplay, one
// overlapping chunk window at a time.
package screenplay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyreel/pkg/checkpoint"
	"storyreel/pkg/config"
	"storyreel/pkg/llm"
	"storyreel/pkg/llm/prompts"
	"storyreel/pkg/model"
	"storyreel/pkg/request"
)

const (
	chunkBreak       = "\n\n---CHUNK BREAK---\n\n"
	promptCharacters = 10
	promptLocations  = 10
	minActChunks     = 4

	keyActStructure = "act_structure"
	keyScenes       = "scenes"
	keyLastChunk    = "last_processed_chunk_idx"
	keyTokens       = "tokens_used"
)

// Options tunes the converter.
type Options struct {
	CheckpointEvery int
	CallDelay       time.Duration
	UseCheckpoints  bool
	ContinuityCheck bool
}

// OptionsFrom maps pipeline settings onto Options.
func OptionsFrom(cfg config.PipelineConfig) Options {
	return Options{
		CheckpointEvery: cfg.CheckpointEvery,
		CallDelay:       cfg.CallDelay.D(),
		UseCheckpoints:  cfg.UseCheckpoints,
		ContinuityCheck: cfg.ContinuityCheck,
	}
}

// Converter turns a story bible and its chunks into a screenplay.
type Converter struct {
	caller  *llm.Caller
	prompts *prompts.Manager
	backend checkpoint.Backend
	opts    Options
}

// NewConverter creates a Converter. backend may be nil when checkpoints are disabled.
func NewConverter(caller *llm.Caller, pm *prompts.Manager, backend checkpoint.Backend, opts Options) *Converter {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	return &Converter{caller: caller, prompts: pm, backend: backend, opts: opts}
}

func (c *Converter) checkpoint(novelID string) *checkpoint.Checkpoint {
	if !c.opts.UseCheckpoints || c.backend == nil {
		return checkpoint.Nop()
	}
	return checkpoint.New(c.backend, novelID, checkpoint.PipelineScreenplay)
}

// Done clears the stage checkpoint once the screenplay is stored.
func (c *Converter) Done(ctx context.Context, novelID string) {
	c.checkpoint(novelID).Clear(ctx)
}

// Convert runs the act structure call, then one scene call per chunk, and
// assembles the numbered screenplay.
func (c *Converter) Convert(ctx context.Context, novelID string, b *model.StoryBible, chunks []model.NarrativeChunk) (*model.Screenplay, error) {
	if b == nil {
		return nil, fmt.Errorf("screenplay: no story bible for novel %s", novelID)
	}
	n := len(chunks)
	if n == 0 {
		return nil, fmt.Errorf("screenplay: no chunks for novel %s", novelID)
	}

	cp := c.checkpoint(novelID)
	rec, ok := cp.Load(ctx)
	if ok {
		slog.Info("Resuming screenplay from checkpoint", "novel_id", novelID, "stage", rec.Stage())
	} else {
		rec = checkpoint.Record{}
	}

	acts, err := c.actStructure(ctx, cp, rec, b, n)
	if err != nil {
		return nil, err
	}

	scenes, start := restoreScenes(rec, n)
	if start > 0 {
		slog.Info("Restored scenes from checkpoint", "scenes", len(scenes), "resume_chunk", start)
	}

	names := NewNameResolver(b)
	for i := start; i < n; i++ {
		if i > start {
			if err := request.Sleep(ctx, c.opts.CallDelay); err != nil {
				return nil, err
			}
		}

		var prev *model.ScreenplayScene
		if len(scenes) > 0 {
			prev = &scenes[len(scenes)-1]
		}
		fresh, err := c.step(ctx, b, chunks, i, &acts, prev, len(scenes)+1, names)
		if err != nil {
			return nil, fmt.Errorf("screenplay chunk %d/%d: %w", i+1, n, err)
		}
		if c.opts.ContinuityCheck && prev != nil && len(fresh) > 0 {
			c.checkContinuity(ctx, prev, &fresh[0])
		}
		scenes = append(scenes, fresh...)
		slog.Debug("Chunk converted", "chunk", i+1, "of", n, "new_scenes", len(fresh), "total_scenes", len(scenes))

		if (i+1)%c.opts.CheckpointEvery == 0 {
			c.save(ctx, cp, fmt.Sprintf("scenes_through_chunk_%d", i), acts, scenes, i)
		}
	}

	if n > start && n%c.opts.CheckpointEvery != 0 {
		c.save(ctx, cp, fmt.Sprintf("scenes_through_chunk_%d", n-1), acts, scenes, n-1)
	}

	Renumber(scenes)
	sp := &model.Screenplay{
		ScreenplayID:      uuid.NewString(),
		NovelID:           novelID,
		NovelTitle:        b.NovelTitle,
		Scenes:            scenes,
		ActStructure:      acts,
		SceneCount:        len(scenes),
		PageCountEstimate: PageEstimate(scenes),
		CreatedAt:         time.Now().UTC(),
		ModelUsed:         c.caller.ModelUsed(),
	}
	sp.FountainText = FormatFountain(sp)
	if err := sp.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Screenplay converted",
		"novel_id", novelID,
		"scenes", sp.SceneCount,
		"pages", sp.PageCountEstimate,
		"tokens", c.caller.TokensUsed())
	return sp, nil
}

// actStructure restores or determines the act boundaries. Short novels are
// split evenly without a model call.
func (c *Converter) actStructure(ctx context.Context, cp *checkpoint.Checkpoint, rec checkpoint.Record, b *model.StoryBible, n int) (model.ActStructure, error) {
	var acts model.ActStructure
	if rec.Has(keyActStructure) {
		err := rec.Decode(keyActStructure, &acts)
		if err == nil {
			err = acts.Validate(n)
		}
		if err == nil {
			return acts, nil
		}
		slog.Warn("Checkpointed act structure invalid, recomputing", "error", err)
	}

	if n < minActChunks {
		acts = model.EvenActSplit(n)
	} else {
		prompt, err := c.prompts.RenderProfile(llm.ProfileActStructure, prompts.ActStructureData{Plot: b.Plot, TotalChunks: n})
		if err != nil {
			return acts, err
		}
		if err := c.caller.CallJSON(ctx, llm.ProfileActStructure, prompt, &acts); err != nil {
			return acts, fmt.Errorf("act structure: %w", err)
		}
		if err := acts.Validate(n); err != nil {
			return acts, fmt.Errorf("act structure: %w", err)
		}
	}
	slog.Info("Act structure determined",
		"act_one", acts.ActOne, "act_two_a", acts.ActTwoA,
		"act_two_b", acts.ActTwoB, "act_three", acts.ActThree)

	if partial, err := checkpoint.Partial(map[string]any{keyActStructure: acts}); err == nil {
		cp.Update(ctx, "act_structure_complete", partial)
	}
	return acts, nil
}

// restoreScenes returns checkpointed scenes and the next chunk to process.
// An unusable snapshot restarts from chunk 0.
func restoreScenes(rec checkpoint.Record, n int) ([]model.ScreenplayScene, int) {
	if !rec.Has(keyScenes) || !rec.Has(keyLastChunk) {
		return nil, 0
	}
	var scenes []model.ScreenplayScene
	var last int
	if err := rec.Decode(keyScenes, &scenes); err != nil {
		slog.Warn("Checkpointed scenes unreadable, starting over", "error", err)
		return nil, 0
	}
	if err := rec.Decode(keyLastChunk, &last); err != nil || last < 0 || last >= n {
		slog.Warn("Checkpointed chunk index unusable, starting over", "last", last, "chunks", n, "error", err)
		return nil, 0
	}
	for i := range scenes {
		if err := scenes[i].Validate(); err != nil {
			slog.Warn("Checkpointed scene invalid, starting over", "index", i, "error", err)
			return nil, 0
		}
	}
	return scenes, last + 1
}

func (c *Converter) save(ctx context.Context, cp *checkpoint.Checkpoint, stage string, acts model.ActStructure, scenes []model.ScreenplayScene, last int) {
	partial, err := checkpoint.Partial(map[string]any{
		keyActStructure: acts,
		keyScenes:       scenes,
		keyLastChunk:    last,
		keyTokens:       c.caller.TokensUsed(),
	})
	if err != nil {
		slog.Warn("Checkpoint payload failed", "stage", stage, "error", err)
		return
	}
	cp.Update(ctx, stage, partial)
}

// step converts the window around chunk i into scenes numbered from number.
func (c *Converter) step(ctx context.Context, b *model.StoryBible, chunks []model.NarrativeChunk, i int, acts *model.ActStructure, prev *model.ScreenplayScene, number int, names *NameResolver) ([]model.ScreenplayScene, error) {
	n := len(chunks)
	window := chunks[max(0, i-1):min(n, i+2)]
	texts := make([]string, len(window))
	ids := make([]string, len(window))
	for j := range window {
		texts[j] = window[j].Text
		ids[j] = window[j].ChunkID
	}

	act := acts.Position(i)
	data := prompts.SceneData{
		Characters: b.Characters[:min(len(b.Characters), promptCharacters)],
		Locations:  b.Locations[:min(len(b.Locations), promptLocations)],
		Tone:       b.Tone,
		Timeline:   b.Timeline,
		Previous:   prev,
		Context:    fmt.Sprintf("Chunk %d/%d (%s)", i+1, n, act),
		Act:        act,
		Guidance:   prompts.ActGuidance[act],
		Text:       strings.Join(texts, chunkBreak),
	}
	prompt, err := c.prompts.RenderProfile(llm.ProfileScene, data)
	if err != nil {
		return nil, err
	}

	text, err := c.caller.Call(ctx, llm.ProfileScene, prompt, false)
	if err != nil {
		return nil, err
	}
	scenes := ParseFountain(text, number, ids, names)
	if len(scenes) == 0 {
		slog.Warn("No scenes parsed from model output", "chunk", i+1, "chars", len(text))
	}
	return scenes, nil
}
