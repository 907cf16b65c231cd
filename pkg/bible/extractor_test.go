package bible

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/pkg/checkpoint"
	"storyreel/pkg/llm"
	"storyreel/pkg/llm/llmtest"
	"storyreel/pkg/llm/prompts"
	"storyreel/pkg/model"
)

const (
	charactersJSON = `[
		{"name": "Ada Lovelace", "aliases": ["Ada"], "role": "Protagonist"},
		{"name": "", "role": "minor"},
		{"name": "Charles Babbage", "role": "wizard"}
	]`
	locationsJSON = "```json\n" + `[
		{"name": "The Workshop", "visual_description": "Brass and oil"},
		{"name": "The Workshop", "visual_description": "Duplicate"},
		{"name": "London Streets"}
	]` + "\n```"
	toneJSON     = `{"genre": ["historical", "drama"], "mood": "wistful", "style_notes": "warm candlelight", "violence_level": "mild"}`
	plotJSON     = `{"logline": "A mathematician dreams of engines.", "acts": ["one", "two", "three"]}`
	rulesJSON    = `["Steam powers everything", "", 42]`
	timelineJSON = `{"description": "Victorian London, 1843", "era": "Victorian", "technology_level": "Steam"}`
)

func chunks(n int) []model.NarrativeChunk {
	out := make([]model.NarrativeChunk, n)
	for i := range out {
		out[i] = model.NarrativeChunk{
			ChunkID:       fmt.Sprintf("c%d", i),
			ChapterNumber: 1,
			ChunkIndex:    i,
			Text:          fmt.Sprintf("chunk text %d", i),
		}
	}
	return out
}

func responses() map[string]string {
	return map[string]string{
		llm.ProfileCharacters: charactersJSON,
		llm.ProfileLocations:  locationsJSON,
		llm.ProfileTone:       toneJSON,
		llm.ProfilePlot:       plotJSON,
		llm.ProfileWorldRules: rulesJSON,
		llm.ProfileTimeline:   timelineJSON,
	}
}

func newExtractor(t *testing.T, stub *llmtest.Stub, backend checkpoint.Backend) *Extractor {
	t.Helper()
	pm, err := prompts.NewManager("")
	require.NoError(t, err)
	caller := llm.NewCaller(stub, nil, llmtest.FastPolicy(), nil)
	return NewExtractor(caller, pm, backend, Options{
		BatchSize:      2,
		SampleSize:     10,
		MergeThreshold: 5,
		CallDelay:      time.Millisecond,
		UseCheckpoints: true,
	})
}

func TestExtract_FullRun(t *testing.T) {
	backend := checkpoint.NewFileBackend(t.TempDir())
	stub := llmtest.New(llmtest.ByProfile(responses()))
	ex := newExtractor(t, stub, backend)

	b, err := ex.Extract(context.Background(), "novel-1", "Engines", chunks(3))
	require.NoError(t, err)

	assert.Equal(t, "Engines", b.NovelTitle)
	assert.Equal(t, 2, stub.Count(llm.ProfileCharacters))
	assert.Equal(t, 2, stub.Count(llm.ProfileLocations))
	assert.Equal(t, 0, stub.Count(llm.ProfileMergeCharacters), "4 profiles is under the merge threshold")

	// two valid per batch, the nameless one dropped
	require.Len(t, b.Characters, 4)
	assert.Equal(t, model.RoleProtagonist, b.Characters[0].Role)
	assert.Equal(t, model.RoleMinor, b.Characters[1].Role)

	require.Len(t, b.Locations, 2)
	assert.Equal(t, "Brass and oil", b.Locations[0].VisualDescription)

	assert.Equal(t, "wistful", b.Tone.Mood)
	assert.Equal(t, "A mathematician dreams of engines.", b.Plot.Logline)
	assert.Equal(t, []string{"Steam powers everything"}, b.WorldRules)
	assert.Equal(t, "Victorian", b.Timeline.Era)
	assert.Contains(t, b.VisualStyleNotes, "Primary locations: The Workshop, London Streets")

	cp := checkpoint.New(backend, "novel-1", checkpoint.PipelineBible)
	assert.True(t, cp.Exists(context.Background()), "checkpoint is kept until the bible is stored")
	ex.Done(context.Background(), "novel-1")
	assert.False(t, cp.Exists(context.Background()))
}

func TestExtract_PromptsCarryChunkText(t *testing.T) {
	stub := llmtest.New(llmtest.ByProfile(responses()))
	ex := newExtractor(t, stub, nil)

	_, err := ex.Extract(context.Background(), "novel-1", "Engines", chunks(3))
	require.NoError(t, err)

	for _, c := range stub.Calls() {
		switch c.Profile {
		case llm.ProfileTimeline:
			assert.Contains(t, c.Prompt, "chunk text 0\n\nchunk text 1")
		case llm.ProfileTone:
			assert.Contains(t, c.Prompt, "chunk text 0\n\n---\n\nchunk text 1")
		}
		assert.True(t, c.JSON, "profile %s should be a JSON call", c.Profile)
	}
}

func TestExtract_MergeAboveThreshold(t *testing.T) {
	r := responses()
	r[llm.ProfileCharacters] = `[{"name": "A"}, {"name": "B"}, {"name": "C"}]`
	r[llm.ProfileMergeCharacters] = `[{"name": "A", "aliases": ["B"]}, {"name": "C"}]`
	stub := llmtest.New(llmtest.ByProfile(r))
	ex := newExtractor(t, stub, nil)

	b, err := ex.Extract(context.Background(), "novel-1", "Engines", chunks(4))
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Count(llm.ProfileMergeCharacters))
	require.Len(t, b.Characters, 2)
	assert.Equal(t, []string{"B"}, b.Characters[0].Aliases)
}

func TestExtract_MergeFailureKeepsUnmerged(t *testing.T) {
	r := responses()
	r[llm.ProfileCharacters] = `[{"name": "A"}, {"name": "B"}, {"name": "C"}]`
	r[llm.ProfileMergeCharacters] = "I could not merge these."
	stub := llmtest.New(llmtest.ByProfile(r))
	ex := newExtractor(t, stub, nil)

	b, err := ex.Extract(context.Background(), "novel-1", "Engines", chunks(4))
	require.NoError(t, err)
	assert.Len(t, b.Characters, 6)
}

func TestExtract_DefaultsOnMalformed(t *testing.T) {
	r := responses()
	r[llm.ProfileTone] = "the tone is bleak"
	r[llm.ProfilePlot] = `{"logline": 7}`
	r[llm.ProfileWorldRules] = "none"
	r[llm.ProfileTimeline] = `{"description": "no era given"}`
	r[llm.ProfileCharacters] = "not json at all"
	stub := llmtest.New(llmtest.ByProfile(r))
	ex := newExtractor(t, stub, nil)

	b, err := ex.Extract(context.Background(), "novel-1", "Engines", chunks(2))
	require.NoError(t, err)

	assert.Equal(t, model.DefaultTone(), b.Tone)
	assert.Equal(t, model.PlotSummary{}, b.Plot)
	assert.Empty(t, b.WorldRules)
	assert.Equal(t, model.DefaultTimeline(), b.Timeline)
	assert.Empty(t, b.Characters, "malformed batch is skipped")
	assert.Contains(t, b.VisualStyleNotes, "Genre: unknown")
}

func TestExtract_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	r := responses()

	want, err := newExtractor(t, llmtest.New(llmtest.ByProfile(r)), nil).Extract(ctx, "novel-1", "Engines", chunks(3))
	require.NoError(t, err)

	// first checkpointed run dies at locations with a fatal error
	backend := checkpoint.NewFileBackend(t.TempDir())
	failing := llmtest.New(func(profile, prompt string) (string, error) {
		if profile == llm.ProfileLocations {
			return "", llm.ErrUnauthorized
		}
		return llmtest.ByProfile(r)(profile, prompt)
	})
	_, err = newExtractor(t, failing, backend).Extract(ctx, "novel-1", "Engines", chunks(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnauthorized)
	assert.Equal(t, 1, failing.Count(llm.ProfileLocations), "fatal errors are not retried")

	cp := checkpoint.New(backend, "novel-1", checkpoint.PipelineBible)
	rec, ok := cp.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "characters_complete", rec.Stage())
	assert.True(t, rec.Has(KeyCharacters))
	assert.False(t, rec.Has(KeyLocations))

	second := llmtest.New(llmtest.ByProfile(r))
	ex := newExtractor(t, second, backend)
	got, err := ex.Extract(ctx, "novel-1", "Engines", chunks(3))
	require.NoError(t, err)

	assert.Equal(t, 0, second.Count(llm.ProfileCharacters))
	assert.Equal(t, 2, second.Count(llm.ProfileLocations))

	assert.Equal(t, want.Characters, got.Characters)
	assert.Equal(t, want.Locations, got.Locations)
	assert.Equal(t, want.Tone, got.Tone)
	assert.Equal(t, want.Plot, got.Plot)
	assert.Equal(t, want.Timeline, got.Timeline)
	assert.Equal(t, want.WorldRules, got.WorldRules)
	assert.Equal(t, want.VisualStyleNotes, got.VisualStyleNotes)
	want.ExtractionDate, got.ExtractionDate = time.Time{}, time.Time{}
	assert.Equal(t, want, got, "resumed bible matches an uninterrupted run")

	ex.Done(ctx, "novel-1")
	assert.False(t, cp.Exists(ctx))
}

func TestExtract_InvalidCheckpointRecomputed(t *testing.T) {
	ctx := context.Background()
	backend := checkpoint.NewFileBackend(t.TempDir())
	cp := checkpoint.New(backend, "novel-1", checkpoint.PipelineBible)
	partial, err := checkpoint.Partial(map[string]any{
		KeyCharacters: []map[string]string{{"name": ""}},
		KeyTone:       model.NarrativeTone{Genre: []string{"noir"}, Mood: "tense"},
	})
	require.NoError(t, err)
	cp.Update(ctx, "tone_complete", partial)

	stub := llmtest.New(llmtest.ByProfile(responses()))
	b, err := newExtractor(t, stub, backend).Extract(ctx, "novel-1", "Engines", chunks(3))
	require.NoError(t, err)

	assert.Equal(t, 2, stub.Count(llm.ProfileCharacters), "invalid characters are recomputed")
	assert.Equal(t, 0, stub.Count(llm.ProfileTone), "valid tone is restored")
	assert.Equal(t, "tense", b.Tone.Mood)
}

func TestExtract_CheckpointsDisabled(t *testing.T) {
	ctx := context.Background()
	backend := checkpoint.NewFileBackend(t.TempDir())
	stub := llmtest.New(func(profile, prompt string) (string, error) {
		if profile == llm.ProfileTone {
			return "", llm.ErrUnauthorized
		}
		return llmtest.ByProfile(responses())(profile, prompt)
	})
	ex := newExtractor(t, stub, backend)
	ex.opts.UseCheckpoints = false

	_, err := ex.Extract(ctx, "novel-1", "Engines", chunks(3))
	require.Error(t, err)
	assert.False(t, checkpoint.New(backend, "novel-1", checkpoint.PipelineBible).Exists(ctx))
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := llmtest.New(llmtest.ByProfile(responses()))

	_, err := newExtractor(t, stub, nil).Extract(ctx, "novel-1", "Engines", chunks(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtract_NoChunks(t *testing.T) {
	stub := llmtest.New(llmtest.ByProfile(responses()))
	_, err := newExtractor(t, stub, nil).Extract(context.Background(), "novel-1", "Engines", nil)
	require.Error(t, err)
	assert.Empty(t, stub.Calls())
}

func TestSample(t *testing.T) {
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprint(i)
	}
	tests := []struct {
		name  string
		texts []string
		n     int
		want  []string
	}{
		{"fewer than n returns all", texts[:4], 10, texts[:4]},
		{"exactly n returns all", texts[:10], 10, texts[:10]},
		{"stride of len/n", texts, 10, []string{"0", "2", "4", "6", "8", "10", "12", "14", "16", "18"}},
		{"stride of three", texts[:9], 3, []string{"0", "3", "6"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sample(tt.texts, tt.n))
		})
	}
}

func TestBatches(t *testing.T) {
	got := Batches([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, got)
	assert.Empty(t, Batches(nil, 10))
}

func TestVisualStyleNotes(t *testing.T) {
	locs := make([]model.Location, 7)
	for i := range locs {
		locs[i].Name = fmt.Sprintf("L%d", i)
	}
	tone := model.NarrativeTone{Genre: []string{"noir", "thriller"}, Mood: "tense", StyleNotes: "rain", ViolenceLevel: "graphic"}

	notes := VisualStyleNotes(tone, locs)
	want := strings.Join([]string{
		"Visual Style Guide:",
		"- Genre: noir, thriller",
		"- Mood: tense",
		"- Style: rain",
		"- Primary locations: L0, L1, L2, L3, L4",
		"- Violence level: graphic",
		"",
		"Use these notes to maintain visual consistency across all generated video prompts.",
	}, "\n")
	assert.Equal(t, want, notes)
}
