// Package bible builds the story bible for a novel: characters, locations,
// tone, plot, world rules and timeline, extracted stage by stage with
// checkpoints so an interrupted run resumes where it stopped.
package bible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyreel/pkg/checkpoint"
	"storyreel/pkg/config"
	"storyreel/pkg/llm"
	"storyreel/pkg/llm/prompts"
	"storyreel/pkg/model"
	"storyreel/pkg/request"
)

const (
	batchSeparator   = "\n\n---\n\n"
	timelineSamples  = 3
	styleLocations   = 5
	defaultBatchSize = 10
	defaultSample    = 10
	defaultMerge     = 5
)

// Checkpoint keys, one per sub-stage.
const (
	KeyCharacters = "characters"
	KeyLocations  = "locations"
	KeyTone       = "tone"
	KeyPlot       = "plot"
	KeyWorldRules = "world_rules"
	KeyTimeline   = "timeline"
	keyTokens     = "tokens_used"
)

// Options tunes the extractor.
type Options struct {
	BatchSize      int
	SampleSize     int
	MergeThreshold int
	CallDelay      time.Duration
	UseCheckpoints bool
}

// OptionsFrom maps pipeline settings onto Options.
func OptionsFrom(cfg config.PipelineConfig) Options {
	return Options{
		BatchSize:      cfg.BatchSize,
		SampleSize:     cfg.SampleSize,
		MergeThreshold: cfg.MergeThreshold,
		CallDelay:      cfg.CallDelay.D(),
		UseCheckpoints: cfg.UseCheckpoints,
	}
}

// Extractor runs the story bible stage.
type Extractor struct {
	caller  *llm.Caller
	prompts *prompts.Manager
	backend checkpoint.Backend
	opts    Options
}

// NewExtractor creates an Extractor. backend may be nil when checkpoints are disabled.
func NewExtractor(caller *llm.Caller, pm *prompts.Manager, backend checkpoint.Backend, opts Options) *Extractor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSample
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = defaultMerge
	}
	return &Extractor{caller: caller, prompts: pm, backend: backend, opts: opts}
}

func (e *Extractor) checkpoint(novelID string) *checkpoint.Checkpoint {
	if !e.opts.UseCheckpoints || e.backend == nil {
		return checkpoint.Nop()
	}
	return checkpoint.New(e.backend, novelID, checkpoint.PipelineBible)
}

// Done clears the stage checkpoint. Call it once the bible is stored; until
// then a rerun restores every finished sub-stage.
func (e *Extractor) Done(ctx context.Context, novelID string) {
	e.checkpoint(novelID).Clear(ctx)
}

// Extract builds the story bible from chunks in canonical order.
func (e *Extractor) Extract(ctx context.Context, novelID, title string, chunks []model.NarrativeChunk) (*model.StoryBible, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("bible: no chunks for novel %s", novelID)
	}
	cp := e.checkpoint(novelID)
	rec, resumed := cp.Load(ctx)
	if resumed {
		slog.Info("Resuming story bible from checkpoint", "novel_id", novelID, "stage", rec.Stage())
	} else {
		rec = checkpoint.Record{}
	}

	texts := model.ChunkTexts(chunks)
	sample := Sample(texts, e.opts.SampleSize)

	characters, err := resume(ctx, e, cp, rec, KeyCharacters, validateAll[model.CharacterProfile, *model.CharacterProfile], func() ([]model.CharacterProfile, error) {
		return e.extractCharacters(ctx, texts)
	})
	if err != nil {
		return nil, err
	}

	locations, err := resume(ctx, e, cp, rec, KeyLocations, validateAll[model.Location, *model.Location], func() ([]model.Location, error) {
		return e.extractLocations(ctx, texts)
	})
	if err != nil {
		return nil, err
	}

	sampleText := strings.Join(sample, batchSeparator)

	tone, err := resume(ctx, e, cp, rec, KeyTone, validateOne[model.NarrativeTone, *model.NarrativeTone], func() (model.NarrativeTone, error) {
		return single[model.NarrativeTone](ctx, e, llm.ProfileTone, sampleText, model.DefaultTone)
	})
	if err != nil {
		return nil, err
	}

	plot, err := resume(ctx, e, cp, rec, KeyPlot, validateOne[model.PlotSummary, *model.PlotSummary], func() (model.PlotSummary, error) {
		return single[model.PlotSummary](ctx, e, llm.ProfilePlot, sampleText, func() model.PlotSummary { return model.PlotSummary{} })
	})
	if err != nil {
		return nil, err
	}

	rules, err := resume(ctx, e, cp, rec, KeyWorldRules, nil, func() ([]string, error) {
		return e.extractWorldRules(ctx, sampleText)
	})
	if err != nil {
		return nil, err
	}

	head := sample
	if len(head) > timelineSamples {
		head = head[:timelineSamples]
	}
	timeline, err := resume(ctx, e, cp, rec, KeyTimeline, validateOne[model.TimelinePeriod, *model.TimelinePeriod], func() (model.TimelinePeriod, error) {
		return single[model.TimelinePeriod](ctx, e, llm.ProfileTimeline, strings.Join(head, "\n\n"), model.DefaultTimeline)
	})
	if err != nil {
		return nil, err
	}

	b := &model.StoryBible{
		NovelTitle:       title,
		ExtractionDate:   time.Now().UTC(),
		Characters:       characters,
		Locations:        locations,
		Timeline:         timeline,
		Tone:             tone,
		Plot:             plot,
		WorldRules:       rules,
		VisualStyleNotes: VisualStyleNotes(tone, locations),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Story bible extracted",
		"novel_id", novelID,
		"characters", len(b.Characters),
		"locations", len(b.Locations),
		"world_rules", len(b.WorldRules),
		"tokens", e.caller.TokensUsed())
	return b, nil
}

// resume returns the checkpointed value for key when it decodes and passes
// check; otherwise it computes the value and records it.
func resume[T any](ctx context.Context, e *Extractor, cp *checkpoint.Checkpoint, rec checkpoint.Record, key string, check func(*T) error, compute func() (T, error)) (T, error) {
	if rec.Has(key) {
		var v T
		err := rec.Decode(key, &v)
		if err == nil && check != nil {
			err = check(&v)
		}
		if err == nil {
			slog.Debug("Sub-stage restored from checkpoint", "stage", key)
			return v, nil
		}
		slog.Warn("Checkpointed sub-stage invalid, recomputing", "stage", key, "error", err)
	}

	v, err := compute()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("bible %s: %w", key, err)
	}

	partial, perr := checkpoint.Partial(map[string]any{key: v, keyTokens: e.caller.TokensUsed()})
	if perr != nil {
		slog.Warn("Checkpoint payload failed", "stage", key, "error", perr)
		return v, nil
	}
	cp.Update(ctx, key+"_complete", partial)
	return v, nil
}

type validator[T any] interface {
	*T
	Validate() error
}

func validateAll[T any, PT validator[T]](items *[]T) error {
	for i := range *items {
		if err := PT(&(*items)[i]).Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateOne[T any, PT validator[T]](v *T) error {
	return PT(v).Validate()
}

// decodeItems decodes each raw element and keeps the ones that validate.
func decodeItems[T any, PT validator[T]](raw []json.RawMessage, kind string) []T {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			slog.Warn("Dropping undecodable item", "kind", kind, "index", i, "error", err)
			continue
		}
		if err := PT(&v).Validate(); err != nil {
			slog.Warn("Dropping invalid item", "kind", kind, "index", i, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// batchLoop renders one prompt per batch of texts and hands the decoded list to
// collect. Batches with malformed output are skipped.
func (e *Extractor) batchLoop(ctx context.Context, profile string, texts []string, collect func([]json.RawMessage)) error {
	batches := Batches(texts, e.opts.BatchSize)
	for i, batch := range batches {
		if i > 0 {
			if err := request.Sleep(ctx, e.opts.CallDelay); err != nil {
				return err
			}
		}
		prompt, err := e.prompts.RenderProfile(profile, prompts.TextData{Text: strings.Join(batch, batchSeparator)})
		if err != nil {
			return err
		}
		var raw []json.RawMessage
		if err := e.caller.CallJSON(ctx, profile, prompt, &raw); err != nil {
			if errors.Is(err, llm.ErrMalformedOutput) {
				slog.Warn("Skipping batch with malformed output", "profile", profile, "batch", i+1, "of", len(batches), "error", err)
				continue
			}
			return err
		}
		collect(raw)
		slog.Debug("Batch processed", "profile", profile, "batch", i+1, "of", len(batches))
	}
	return nil
}

func (e *Extractor) extractCharacters(ctx context.Context, texts []string) ([]model.CharacterProfile, error) {
	var all []model.CharacterProfile
	err := e.batchLoop(ctx, llm.ProfileCharacters, texts, func(raw []json.RawMessage) {
		all = append(all, decodeItems[model.CharacterProfile](raw, "character")...)
	})
	if err != nil {
		return nil, err
	}
	if len(all) <= e.opts.MergeThreshold {
		return all, nil
	}
	return e.mergeCharacters(ctx, all)
}

// mergeCharacters asks the model to fold duplicate profiles together. Any
// failure other than cancellation keeps the unmerged list.
func (e *Extractor) mergeCharacters(ctx context.Context, profiles []model.CharacterProfile) ([]model.CharacterProfile, error) {
	prompt, err := e.prompts.RenderProfile(llm.ProfileMergeCharacters, prompts.MergeData{Profiles: profiles})
	if err != nil {
		slog.Warn("Merge prompt failed, keeping unmerged characters", "error", err)
		return profiles, nil
	}
	var raw []json.RawMessage
	if err := e.caller.CallJSON(ctx, llm.ProfileMergeCharacters, prompt, &raw); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
		slog.Warn("Character merge failed, keeping unmerged characters", "count", len(profiles), "error", err)
		return profiles, nil
	}
	merged := decodeItems[model.CharacterProfile](raw, "character")
	if len(merged) == 0 {
		slog.Warn("Character merge returned nothing usable, keeping unmerged characters", "count", len(profiles))
		return profiles, nil
	}
	slog.Info("Characters merged", "before", len(profiles), "after", len(merged))
	return merged, nil
}

func (e *Extractor) extractLocations(ctx context.Context, texts []string) ([]model.Location, error) {
	var all []model.Location
	seen := make(map[string]bool)
	err := e.batchLoop(ctx, llm.ProfileLocations, texts, func(raw []json.RawMessage) {
		for _, loc := range decodeItems[model.Location](raw, "location") {
			if seen[loc.Name] {
				continue
			}
			seen[loc.Name] = true
			all = append(all, loc)
		}
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// single makes one JSON call. Malformed or invalid output yields fallback();
// exhaustion and cancellation are returned.
func single[T any, PT validator[T]](ctx context.Context, e *Extractor, profile, text string, fallback func() T) (T, error) {
	prompt, err := e.prompts.RenderProfile(profile, prompts.TextData{Text: text})
	if err != nil {
		return fallback(), err
	}
	var v T
	if err := e.caller.CallJSON(ctx, profile, prompt, &v); err != nil {
		if errors.Is(err, llm.ErrMalformedOutput) {
			slog.Warn("Malformed output, using defaults", "profile", profile, "error", err)
			return fallback(), nil
		}
		return fallback(), err
	}
	if err := PT(&v).Validate(); err != nil {
		slog.Warn("Invalid output, using defaults", "profile", profile, "error", err)
		return fallback(), nil
	}
	return v, nil
}

func (e *Extractor) extractWorldRules(ctx context.Context, text string) ([]string, error) {
	prompt, err := e.prompts.RenderProfile(llm.ProfileWorldRules, prompts.TextData{Text: text})
	if err != nil {
		return nil, err
	}
	var raw []any
	if err := e.caller.CallJSON(ctx, llm.ProfileWorldRules, prompt, &raw); err != nil {
		if errors.Is(err, llm.ErrMalformedOutput) {
			slog.Warn("Malformed world rules, using none", "error", err)
			return []string{}, nil
		}
		return nil, err
	}
	rules := make([]string, 0, len(raw))
	for _, r := range raw {
		s, ok := r.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			rules = append(rules, s)
		}
	}
	return rules, nil
}

// Batches splits texts into consecutive groups of at most size.
func Batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}

// Sample takes n evenly strided texts, texts[i*(len/n)], or all of them when len <= n.
func Sample(texts []string, n int) []string {
	if n <= 0 || len(texts) <= n {
		return texts
	}
	step := len(texts) / n
	out := make([]string, n)
	for i := range n {
		out[i] = texts[i*step]
	}
	return out
}

// VisualStyleNotes renders the style guide handed to downstream prompt writers.
func VisualStyleNotes(tone model.NarrativeTone, locations []model.Location) string {
	names := make([]string, 0, styleLocations)
	for i := 0; i < len(locations) && i < styleLocations; i++ {
		names = append(names, locations[i].Name)
	}
	return fmt.Sprintf(`Visual Style Guide:
- Genre: %s
- Mood: %s
- Style: %s
- Primary locations: %s
- Violence level: %s

Use these notes to maintain visual consistency across all generated video prompts.`,
		strings.Join(tone.Genre, ", "),
		tone.Mood,
		tone.StyleNotes,
		strings.Join(names, ", "),
		tone.ViolenceLevel)
}
