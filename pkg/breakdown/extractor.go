// Package breakdown turns screenplay scenes into self-contained production
// sheets for video generation.
package breakdown

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
	keyBreakdowns = "breakdowns"
	keyTokens     = "tokens_used"
)

// Options tunes the extractor.
type Options struct {
	CheckpointEvery int
	CallDelay       time.Duration
	UseCheckpoints  bool
}

// OptionsFrom maps pipeline settings onto Options.
func OptionsFrom(cfg config.PipelineConfig) Options {
	return Options{
		CheckpointEvery: cfg.CheckpointEvery,
		CallDelay:       cfg.CallDelay.D(),
		UseCheckpoints:  cfg.UseCheckpoints,
	}
}

// Extractor produces one SceneBreakdown per scene.
type Extractor struct {
	caller  *llm.Caller
	prompts *prompts.Manager
	backend checkpoint.Backend
	opts    Options
}

// NewExtractor creates an Extractor. backend may be nil when checkpoints are disabled.
func NewExtractor(caller *llm.Caller, pm *prompts.Manager, backend checkpoint.Backend, opts Options) *Extractor {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	return &Extractor{caller: caller, prompts: pm, backend: backend, opts: opts}
}

// response mirrors the model's JSON. Pointer fields distinguish absent keys,
// which take scene-derived defaults.
type response struct {
	EmotionalBeat              *string                 `json:"emotional_beat"`
	NarrativePurpose           string                  `json:"narrative_purpose"`
	Composition                model.VisualComposition `json:"composition"`
	CharactersWithDescriptions map[string]string       `json:"characters_with_descriptions"`
	LocationVisualDescription  string                  `json:"location_visual_description"`
	PropsAndSetDressing        []string                `json:"props_and_set_dressing"`
	AmbientSound               string                  `json:"ambient_sound"`
	DialoguePresent            *bool                   `json:"dialogue_present"`
	MusicMood                  string                  `json:"music_mood"`
	SpecialRequirements        []string                `json:"special_requirements"`
	EstimatedClipCount         *int                    `json:"estimated_clip_count"`
	ContinuityNotes            string                  `json:"continuity_notes"`
	PromptReady                *bool                   `json:"prompt_ready"`
}

func (e *Extractor) checkpoint(novelID string) *checkpoint.Checkpoint {
	if !e.opts.UseCheckpoints || e.backend == nil {
		return checkpoint.Nop()
	}
	return checkpoint.New(e.backend, novelID, checkpoint.PipelineBreakdown)
}

// Done clears the stage checkpoint once the breakdowns are stored.
func (e *Extractor) Done(ctx context.Context, novelID string) {
	e.checkpoint(novelID).Clear(ctx)
}

// Process breaks down scenes in order. Any call failure aborts the run and
// leaves finished breakdowns in the checkpoint.
func (e *Extractor) Process(ctx context.Context, novelID string, scenes []model.ScreenplayScene, b *model.StoryBible) ([]model.SceneBreakdown, error) {
	if b == nil {
		return nil, fmt.Errorf("breakdown: no story bible for novel %s", novelID)
	}

	cp := e.checkpoint(novelID)
	done := restore(ctx, cp, scenes)

	out := make([]model.SceneBreakdown, 0, len(scenes))
	computed := 0
	for i := range scenes {
		s := &scenes[i]
		if bd, ok := done[s.SceneID]; ok {
			out = append(out, bd)
			continue
		}
		if computed > 0 {
			if err := request.Sleep(ctx, e.opts.CallDelay); err != nil {
				return nil, err
			}
		}

		slog.Info("Breaking down scene", "scene", s.SceneNumber, "of", len(scenes), "slug", s.SlugLine)
		bd, err := e.ProcessScene(ctx, s, b)
		if err != nil {
			return nil, fmt.Errorf("breakdown scene %d: %w", s.SceneNumber, err)
		}
		out = append(out, *bd)
		computed++

		if computed%e.opts.CheckpointEvery == 0 {
			save(ctx, cp, out, s.SceneNumber, e.caller.TokensUsed())
		}
	}

	if computed%e.opts.CheckpointEvery != 0 {
		save(ctx, cp, out, scenes[len(scenes)-1].SceneNumber, e.caller.TokensUsed())
	}
	slog.Info("Scene breakdowns complete",
		"novel_id", novelID,
		"scenes", len(out),
		"restored", len(out)-computed,
		"tokens", e.caller.TokensUsed())
	return out, nil
}

func restore(ctx context.Context, cp *checkpoint.Checkpoint, scenes []model.ScreenplayScene) map[string]model.SceneBreakdown {
	done := make(map[string]model.SceneBreakdown)
	rec, ok := cp.Load(ctx)
	if !ok || !rec.Has(keyBreakdowns) {
		return done
	}
	var saved []model.SceneBreakdown
	if err := rec.Decode(keyBreakdowns, &saved); err != nil {
		slog.Warn("Checkpointed breakdowns unreadable, starting over", "error", err)
		return done
	}
	known := make(map[string]bool, len(scenes))
	for _, s := range scenes {
		known[s.SceneID] = true
	}
	for _, bd := range saved {
		if !known[bd.SceneID] {
			continue
		}
		if err := bd.Validate(); err != nil {
			slog.Warn("Checkpointed breakdown invalid, recomputing", "scene_id", bd.SceneID, "error", err)
			continue
		}
		done[bd.SceneID] = bd
	}
	if len(done) > 0 {
		slog.Info("Resuming breakdowns from checkpoint", "stage", rec.Stage(), "finished", len(done))
	}
	return done
}

func save(ctx context.Context, cp *checkpoint.Checkpoint, finished []model.SceneBreakdown, through int, tokens int64) {
	partial, err := checkpoint.Partial(map[string]any{keyBreakdowns: finished, keyTokens: tokens})
	if err != nil {
		slog.Warn("Checkpoint payload failed", "error", err)
		return
	}
	cp.Update(ctx, fmt.Sprintf("breakdowns_through_scene_%d", through), partial)
}

// ProcessScene makes the breakdown call for one scene and inlines the story
// bible descriptions.
func (e *Extractor) ProcessScene(ctx context.Context, s *model.ScreenplayScene, b *model.StoryBible) (*model.SceneBreakdown, error) {
	characters := CharacterDescriptions(s.CharactersPresent, b)
	location := LocationDescription(s.LocationName, b)

	prompt, err := e.prompts.RenderProfile(llm.ProfileBreakdown, prompts.BreakdownData{
		Scene:               s,
		Characters:          characters,
		LocationDescription: location,
		Tone:                b.Tone,
		Timeline:            b.Timeline,
	})
	if err != nil {
		return nil, err
	}

	var r response
	if err := e.caller.CallJSON(ctx, llm.ProfileBreakdown, prompt, &r); err != nil {
		return nil, err
	}
	bd := assemble(s, &r, characters, location)
	if err := bd.Validate(); err != nil {
		return nil, err
	}
	return bd, nil
}

// assemble applies the scene defaults and overwrites model copies of bible
// descriptions with the originals.
func assemble(s *model.ScreenplayScene, r *response, characters map[string]string, location string) *model.SceneBreakdown {
	bd := &model.SceneBreakdown{
		BreakdownID:                uuid.NewString(),
		SceneID:                    s.SceneID,
		SceneNumber:                s.SceneNumber,
		SlugLine:                   s.SlugLine,
		EmotionalBeat:              s.EmotionalBeat,
		NarrativePurpose:           r.NarrativePurpose,
		Composition:                r.Composition,
		CharactersWithDescriptions: make(map[string]string),
		LocationVisualDescription:  r.LocationVisualDescription,
		PropsAndSetDressing:        r.PropsAndSetDressing,
		AmbientSound:               r.AmbientSound,
		DialoguePresent:            len(s.Dialogue) > 0,
		MusicMood:                  r.MusicMood,
		SpecialRequirements:        r.SpecialRequirements,
		EstimatedClipCount:         1,
		ContinuityNotes:            r.ContinuityNotes,
		PromptReady:                true,
	}
	if r.EmotionalBeat != nil && strings.TrimSpace(*r.EmotionalBeat) != "" {
		bd.EmotionalBeat = *r.EmotionalBeat
	}
	if r.DialoguePresent != nil {
		bd.DialoguePresent = *r.DialoguePresent
	}
	if r.EstimatedClipCount != nil && *r.EstimatedClipCount >= 1 {
		bd.EstimatedClipCount = *r.EstimatedClipCount
	}
	if r.PromptReady != nil {
		bd.PromptReady = *r.PromptReady
	}

	for name, desc := range r.CharactersWithDescriptions {
		bd.CharactersWithDescriptions[name] = desc
	}
	for name, desc := range characters {
		if desc != "" {
			bd.CharactersWithDescriptions[name] = desc
		}
	}
	if location != "" {
		bd.LocationVisualDescription = location
	}

	if missing := bd.MissingFields(s.CharactersPresent); len(missing) > 0 {
		slog.Warn("Breakdown is not self-contained", "scene", s.SceneNumber, "missing", missing)
		bd.PromptReady = false
	}
	return bd
}

// CharacterDescriptions maps each present character to its bible physical
// description. Names the bible does not know map to "".
func CharacterDescriptions(present []string, b *model.StoryBible) map[string]string {
	out := make(map[string]string, len(present))
	for _, name := range present {
		if c, ok := b.FindCharacter(name); ok {
			out[name] = c.PhysicalDescription
		} else {
			out[name] = ""
		}
	}
	return out
}

// LocationDescription returns the bible's visual description for the scene
// location. Slug lines are usually upper case, so a case-insensitive match is
// tried after the exact one.
func LocationDescription(name string, b *model.StoryBible) string {
	if loc, ok := b.FindLocation(name); ok {
		return loc.VisualDescription
	}
	if b == nil {
		return ""
	}
	for i := range b.Locations {
		if strings.EqualFold(b.Locations[i].Name, name) {
			return b.Locations[i].VisualDescription
		}
	}
	return ""
}
