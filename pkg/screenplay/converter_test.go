package screenplay

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
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

const fiveChunkActs = `{
	"act_one_chunk_range": [0, 0],
	"act_two_a_chunk_range": [1, 1],
	"act_two_b_chunk_range": [2, 2],
	"act_three_chunk_range": [3, 4]
}`

func testChunks(n int) []model.NarrativeChunk {
	out := make([]model.NarrativeChunk, n)
	for i := range out {
		out[i] = model.NarrativeChunk{
			ChunkID:    fmt.Sprintf("c%d", i),
			ChunkIndex: i,
			Text:       fmt.Sprintf("chunk text %d", i),
		}
	}
	return out
}

// sceneHandler answers act_structure with acts and every scene call with one
// numbered scene. failAt makes the n-th scene call (1-based) fail fatally.
func sceneHandler(acts string, failAt int32, continuity string) llmtest.Handler {
	var n atomic.Int32
	return func(profile, _ string) (string, error) {
		switch profile {
		case llm.ProfileActStructure:
			return acts, nil
		case llm.ProfileContinuity:
			return continuity, nil
		case llm.ProfileScene:
			k := n.Add(1)
			if k == failAt {
				return "", llm.ErrUnauthorized
			}
			return fmt.Sprintf("INT. THE WORKSHOP - NIGHT\n\nStep %d. Ada turns the crank.\n\nBABBAGE\nAgain.", k), nil
		}
		return "", fmt.Errorf("unexpected profile %s", profile)
	}
}

const twelveChunkActs = `{
	"act_one_chunk_range": [0, 2],
	"act_two_a_chunk_range": [3, 5],
	"act_two_b_chunk_range": [6, 8],
	"act_three_chunk_range": [9, 11]
}`

var storyPosition = regexp.MustCompile(`CURRENT STORY POSITION:\*\* Chunk (\d+)/`)

// chunkSceneHandler answers every scene call with two scenes keyed by the
// chunk position in the prompt, so output does not depend on call order.
// failChunk (1-based) fails fatally.
func chunkSceneHandler(acts string, failChunk int) llmtest.Handler {
	return func(profile, prompt string) (string, error) {
		switch profile {
		case llm.ProfileActStructure:
			return acts, nil
		case llm.ProfileScene:
			m := storyPosition.FindStringSubmatch(prompt)
			if m == nil {
				return "", fmt.Errorf("no story position in prompt")
			}
			k, _ := strconv.Atoi(m[1])
			if k == failChunk {
				return "", llm.ErrUnauthorized
			}
			return fmt.Sprintf("INT. ROOM %d - NIGHT\n\nStep %d. Ada turns the crank.\n\nBABBAGE\nAgain.\n\nEXT. YARD %d - DAY\n\nThe engine cools.", k, k, k), nil
		}
		return "", fmt.Errorf("unexpected profile %s", profile)
	}
}

func newConverter(t *testing.T, stub *llmtest.Stub, backend checkpoint.Backend, opts Options) *Converter {
	t.Helper()
	pm, err := prompts.NewManager("")
	require.NoError(t, err)
	caller := llm.NewCaller(stub, nil, llmtest.FastPolicy(), nil)
	if opts.CallDelay == 0 {
		opts.CallDelay = time.Millisecond
	}
	return NewConverter(caller, pm, backend, opts)
}

func TestConvert(t *testing.T) {
	backend := checkpoint.NewFileBackend(t.TempDir())
	stub := llmtest.New(sceneHandler(fiveChunkActs, 0, ""))
	c := newConverter(t, stub, backend, Options{UseCheckpoints: true, CheckpointEvery: 2})

	sp, err := c.Convert(context.Background(), "novel-1", testBible(), testChunks(5))
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Count(llm.ProfileActStructure))
	assert.Equal(t, 5, stub.Count(llm.ProfileScene))
	assert.Equal(t, 0, stub.Count(llm.ProfileContinuity))

	require.Len(t, sp.Scenes, 5)
	assert.Equal(t, 5, sp.SceneCount)
	for i, s := range sp.Scenes {
		assert.Equal(t, i+1, s.SceneNumber)
		assert.Equal(t, []string{"Charles Babbage"}, s.CharactersPresent, "aliases in action are not mentions")
	}
	assert.Equal(t, []string{"c0", "c1"}, sp.Scenes[0].SourceChunkIDs)
	assert.Equal(t, []string{"c1", "c2", "c3"}, sp.Scenes[2].SourceChunkIDs)
	assert.Equal(t, []string{"c3", "c4"}, sp.Scenes[4].SourceChunkIDs)
	assert.Equal(t, model.ChunkRange{3, 4}, sp.ActStructure.ActThree)

	assert.Equal(t, "Engines", sp.NovelTitle)
	assert.Equal(t, "stub-model", sp.ModelUsed)
	assert.Equal(t, 1, sp.PageCountEstimate)
	assert.True(t, strings.HasPrefix(sp.FountainText, "Title: Engines\n"))
	assert.Contains(t, sp.FountainText, "Step 5. Ada turns the crank.")
	assert.NoError(t, sp.Validate())

	cp := checkpoint.New(backend, "novel-1", checkpoint.PipelineScreenplay)
	rec, ok := cp.Load(context.Background())
	require.True(t, ok, "checkpoint is kept until the screenplay is stored")
	assert.Equal(t, "scenes_through_chunk_4", rec.Stage())
	c.Done(context.Background(), "novel-1")
	assert.False(t, cp.Exists(context.Background()))
}

func TestConvert_ScenePrompts(t *testing.T) {
	stub := llmtest.New(sceneHandler(fiveChunkActs, 0, ""))
	c := newConverter(t, stub, nil, Options{})

	_, err := c.Convert(context.Background(), "novel-1", testBible(), testChunks(5))
	require.NoError(t, err)

	var scenePrompts []string
	for _, call := range stub.Calls() {
		if call.Profile == llm.ProfileScene {
			assert.False(t, call.JSON, "scene calls return free text")
			scenePrompts = append(scenePrompts, call.Prompt)
		}
	}
	require.Len(t, scenePrompts, 5)

	assert.Contains(t, scenePrompts[0], "Chunk 1/5 (Act 1)")
	assert.Contains(t, scenePrompts[0], "chunk text 0\n\n---CHUNK BREAK---\n\nchunk text 1")
	assert.NotContains(t, scenePrompts[0], "PREVIOUS SCENE FOR CONTINUITY")
	assert.Contains(t, scenePrompts[0], prompts.ActGuidance[model.ActOne])
	assert.Contains(t, scenePrompts[0], "- Ada Lovelace: protagonist, Dark curls, ink-stained fingers")
	assert.Contains(t, scenePrompts[0], "**Period:** Victorian London, 1843")

	assert.Contains(t, scenePrompts[1], "Chunk 2/5 (Act 2A)")
	assert.Contains(t, scenePrompts[1], "PREVIOUS SCENE FOR CONTINUITY")
	assert.Contains(t, scenePrompts[1], "Step 1. Ada turns the crank.")
	assert.Contains(t, scenePrompts[4], "Chunk 5/5 (Act 3)")
}

func TestConvert_ShortNovelSkipsActCall(t *testing.T) {
	stub := llmtest.New(sceneHandler("", 0, ""))
	c := newConverter(t, stub, nil, Options{})

	sp, err := c.Convert(context.Background(), "novel-1", testBible(), testChunks(3))
	require.NoError(t, err)

	assert.Equal(t, 0, stub.Count(llm.ProfileActStructure))
	assert.Equal(t, model.EvenActSplit(3), sp.ActStructure)
	assert.Len(t, sp.Scenes, 3)
}

func TestConvert_InvalidActStructureAborts(t *testing.T) {
	tests := []struct {
		name string
		acts string
	}{
		{"gap between acts", `{"act_one_chunk_range": [0, 0], "act_two_a_chunk_range": [2, 2], "act_two_b_chunk_range": [3, 3], "act_three_chunk_range": [4, 4]}`},
		{"does not reach the end", `{"act_one_chunk_range": [0, 0], "act_two_a_chunk_range": [1, 1], "act_two_b_chunk_range": [2, 2], "act_three_chunk_range": [3, 3]}`},
		{"three-element range", `{"act_one_chunk_range": [0, 0, 1], "act_two_a_chunk_range": [1, 1], "act_two_b_chunk_range": [2, 2], "act_three_chunk_range": [3, 4]}`},
		{"not json", `four acts, roughly even`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := llmtest.New(sceneHandler(tt.acts, 0, ""))
			c := newConverter(t, stub, nil, Options{})

			_, err := c.Convert(context.Background(), "novel-1", testBible(), testChunks(5))
			require.Error(t, err)
			assert.Equal(t, 0, stub.Count(llm.ProfileScene))
		})
	}
}

func TestConvert_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	backend := checkpoint.NewFileBackend(t.TempDir())
	opts := Options{UseCheckpoints: true, CheckpointEvery: 2}

	first := llmtest.New(sceneHandler(fiveChunkActs, 4, ""))
	_, err := newConverter(t, first, backend, opts).Convert(ctx, "novel-1", testBible(), testChunks(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnauthorized)

	rec, ok := checkpoint.New(backend, "novel-1", checkpoint.PipelineScreenplay).Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "scenes_through_chunk_1", rec.Stage())
	var last int
	require.NoError(t, rec.Decode(keyLastChunk, &last))
	assert.Equal(t, 1, last)

	second := llmtest.New(sceneHandler("not used", 0, ""))
	sp, err := newConverter(t, second, backend, opts).Convert(ctx, "novel-1", testBible(), testChunks(5))
	require.NoError(t, err)

	assert.Equal(t, 0, second.Count(llm.ProfileActStructure), "act structure restored")
	assert.Equal(t, 3, second.Count(llm.ProfileScene), "chunks 2..4 remain")
	require.Len(t, sp.Scenes, 5)
	assert.Contains(t, sp.Scenes[1].ActionLines, "Step 2.", "restored scenes come first")
	assert.Contains(t, sp.Scenes[2].ActionLines, "Step 1.", "second run restarts its own counter")
	for i, s := range sp.Scenes {
		assert.Equal(t, i+1, s.SceneNumber)
	}
}

func TestConvert_ResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	opts := Options{UseCheckpoints: true, CheckpointEvery: 5}

	want, err := newConverter(t, llmtest.New(chunkSceneHandler(twelveChunkActs, 0)), nil, opts).
		Convert(ctx, "novel-1", testBible(), testChunks(12))
	require.NoError(t, err)
	require.Len(t, want.Scenes, 24)

	backend := checkpoint.NewFileBackend(t.TempDir())
	first := llmtest.New(chunkSceneHandler(twelveChunkActs, 11))
	_, err = newConverter(t, first, backend, opts).Convert(ctx, "novel-1", testBible(), testChunks(12))
	require.ErrorIs(t, err, llm.ErrUnauthorized)

	rec, ok := checkpoint.New(backend, "novel-1", checkpoint.PipelineScreenplay).Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "scenes_through_chunk_9", rec.Stage())

	second := llmtest.New(chunkSceneHandler(twelveChunkActs, 0))
	got, err := newConverter(t, second, backend, opts).Convert(ctx, "novel-1", testBible(), testChunks(12))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Count(llm.ProfileActStructure))
	assert.Equal(t, 2, second.Count(llm.ProfileScene), "only chunks 10 and 11 remain")

	require.Len(t, got.Scenes, len(want.Scenes))
	for i := range want.Scenes {
		w, g := want.Scenes[i], got.Scenes[i]
		assert.Equal(t, i+1, g.SceneNumber)
		assert.Equal(t, w.SceneNumber, g.SceneNumber)
		assert.Equal(t, w.SlugLine, g.SlugLine)
		assert.Equal(t, w.ActionLines, g.ActionLines)
		assert.Equal(t, w.Dialogue, g.Dialogue)
		assert.Equal(t, w.CharactersPresent, g.CharactersPresent)
		assert.Equal(t, w.SourceChunkIDs, g.SourceChunkIDs)
	}
	assert.Equal(t, want.ActStructure, got.ActStructure)
	assert.Equal(t, want.SceneCount, got.SceneCount)
	assert.Equal(t, want.PageCountEstimate, got.PageCountEstimate)
	assert.Equal(t, want.FountainText, got.FountainText)
}

func TestConvert_ContinuityNotes(t *testing.T) {
	report := `{"is_valid": false, "issues": ["Ada was injured a moment ago"], "severity": "major", "suggested_fix": "Show the bandage"}`
	stub := llmtest.New(sceneHandler(fiveChunkActs, 0, report))
	c := newConverter(t, stub, nil, Options{ContinuityCheck: true})

	sp, err := c.Convert(context.Background(), "novel-1", testBible(), testChunks(5))
	require.NoError(t, err)

	assert.Equal(t, 4, stub.Count(llm.ProfileContinuity), "no check before the first scene")
	assert.Empty(t, sp.Scenes[0].AdaptationNotes)
	assert.Equal(t, []string{
		"Continuity (major): Ada was injured a moment ago",
		"Continuity fix: Show the bandage",
	}, sp.Scenes[1].AdaptationNotes)
}

func TestConvert_ContinuityFailureIgnored(t *testing.T) {
	stub := llmtest.New(sceneHandler(fiveChunkActs, 0, "no idea"))
	c := newConverter(t, stub, nil, Options{ContinuityCheck: true})

	sp, err := c.Convert(context.Background(), "novel-1", testBible(), testChunks(5))
	require.NoError(t, err)
	assert.Len(t, sp.Scenes, 5)
	for _, s := range sp.Scenes {
		assert.Empty(t, s.AdaptationNotes)
	}
}

func TestConvert_MissingInputs(t *testing.T) {
	stub := llmtest.New(sceneHandler(fiveChunkActs, 0, ""))
	c := newConverter(t, stub, nil, Options{})

	_, err := c.Convert(context.Background(), "novel-1", nil, testChunks(5))
	assert.Error(t, err)
	_, err = c.Convert(context.Background(), "novel-1", testBible(), nil)
	assert.Error(t, err)
	assert.Empty(t, stub.Calls())
}

func TestContinuityReport_Notes(t *testing.T) {
	assert.Empty(t, ContinuityReport{IsValid: true, Severity: "none", SuggestedFix: "n/a"}.Notes())
	assert.Equal(t, []string{"Continuity (minor): time jump"}, ContinuityReport{Issues: []string{"time jump", "  "}}.Notes())
}
