package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/pkg/llm"
	"storyreel/pkg/model"
)

func TestManager_Render(t *testing.T) {
	tmpDir := t.TempDir()

	macrosContent := `{{define "hello"}}Hello {{.Name}}{{end}}`
	if err := writeFile(filepath.Join(tmpDir, "common", "macros.tmpl"), macrosContent); err != nil {
		t.Fatal(err)
	}
	scriptContent := `{{template "hello" .}}! {{truncate .Long 5}} {{tail .Long 3}} {{join .List "+"}}
`
	if err := writeFile(filepath.Join(tmpDir, "bible", "script.tmpl"), scriptContent); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	data := struct {
		Name string
		Long string
		List []string
	}{Name: "World", Long: "abcdefghij", List: []string{"a", "b"}}
	out, err := m.Render("bible/script.tmpl", data)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	expected := "Hello World! abcde... hij a+b"
	if out != expected {
		t.Errorf("Expected %q, got %q", expected, out)
	}
}

func TestManager_ParseError(t *testing.T) {
	tmpDir := t.TempDir()
	if err := writeFile(filepath.Join(tmpDir, "bad.tmpl"), "{{if}}"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(tmpDir); err == nil {
		t.Error("expected parse error")
	}
}

func TestManager_CheckMissing(t *testing.T) {
	tmpDir := t.TempDir()
	if err := writeFile(filepath.Join(tmpDir, "bible", "tone.tmpl"), "tone"); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(tmpDir)
	require.NoError(t, err)

	err = m.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screenplay/scene.tmpl")
	assert.NotContains(t, err.Error(), "bible/tone.tmpl")

	_, err = m.RenderProfile("unknown", nil)
	assert.Error(t, err)
}

func TestEmbedded_AllProfiles(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	require.NoError(t, m.Check())

	prev := &model.ScreenplayScene{
		SceneNumber:       4,
		SlugLine:          "INT. LIBRARY - NIGHT",
		LocationName:      "LIBRARY",
		TimeOfDay:         "NIGHT",
		ActionLines:       strings.Repeat("x", 250) + "END OF ACTION",
		CharactersPresent: []string{"Mara", "Tom"},
		EmotionalBeat:     "Dread",
	}
	cur := &model.ScreenplayScene{
		SceneNumber:       5,
		SlugLine:          "EXT. HARBOR - DAWN",
		LocationName:      "HARBOR",
		TimeOfDay:         "DAWN",
		ActionLines:       "Gulls wheel overhead.",
		CharactersPresent: []string{"Mara"},
		Dialogue:          []model.DialogueLine{{Character: "Mara", Line: "We're late."}},
	}
	tone := model.NarrativeTone{Genre: []string{"noir", "thriller"}, Mood: "bleak"}
	timeline := model.TimelinePeriod{Description: "Lisbon, 1962", Era: "Cold War"}

	tests := []struct {
		profile string
		data    any
		want    []string
	}{
		{llm.ProfileCharacters, TextData{Text: "chunk one"}, []string{"<novel_text>\nchunk one\n</novel_text>", "JSON array"}},
		{llm.ProfileLocations, TextData{Text: "a pier"}, []string{"a pier", "visual_description"}},
		{llm.ProfileTone, TextData{Text: "t"}, []string{"violence_level"}},
		{llm.ProfilePlot, TextData{Text: "t"}, []string{"logline"}},
		{llm.ProfileWorldRules, TextData{Text: "t"}, []string{"empty array"}},
		{llm.ProfileTimeline, TextData{Text: "t"}, []string{"technology_level"}},
		{llm.ProfileMergeCharacters, MergeData{Profiles: []model.CharacterProfile{{Name: "Jim", Role: "minor"}}}, []string{`"name": "Jim"`}},
		{
			llm.ProfileActStructure,
			ActStructureData{Plot: model.PlotSummary{Synopsis: "A heist.", Acts: []string{"Setup", "Payoff"}}, TotalChunks: 40},
			[]string{"A heist.", "1. Setup", "2. Payoff", "**TOTAL NARRATIVE CHUNKS:** 40", "[Z+1, 39]"},
		},
		{
			llm.ProfileScene,
			SceneData{
				Characters: []model.CharacterProfile{{Name: "Mara", Role: "protagonist", PhysicalDescription: strings.Repeat("d", 150)}},
				Locations:  []model.Location{{Name: "HARBOR", VisualDescription: "Grey water"}},
				Tone:       tone,
				Timeline:   timeline,
				Previous:   prev,
				Context:    "Chunk 5/40 (Act 1)",
				Act:        model.ActOne,
				Guidance:   ActGuidance[model.ActOne],
				Text:       "She ran.",
			},
			[]string{
				"- Mara: protagonist, " + strings.Repeat("d", 100) + "...",
				"- HARBOR: Grey water",
				"**Genre:** noir, thriller",
				"**Period:** Lisbon, 1962",
				"Scene #4: INT. LIBRARY - NIGHT",
				"Characters present: Mara, Tom",
				"END OF ACTION",
				"**CURRENT STORY POSITION:** Chunk 5/40 (Act 1)",
				"Establish the world",
				"She ran.",
			},
		},
		{llm.ProfileContinuity, ContinuityData{Previous: prev, Current: cur}, []string{"Scene #4", "Scene #5: EXT. HARBOR - DAWN", "First action: Gulls wheel overhead."}},
		{
			llm.ProfileBreakdown,
			BreakdownData{
				Scene:               cur,
				Characters:          map[string]string{"Mara": "Tall, red coat"},
				LocationDescription: "Grey water, rusted cranes",
				Tone:                tone,
				Timeline:            timeline,
			},
			[]string{"Scene #5", `"line": "We're late."`, `"Mara": "Tall, red coat"`, "Grey water, rusted cranes", "Emotional Beat: Unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			out, err := m.RenderProfile(tt.profile, tt.data)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestScene_NoPrevious(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	out, err := m.RenderProfile(llm.ProfileScene, SceneData{Tone: model.DefaultTone(), Act: model.ActThree})
	require.NoError(t, err)
	assert.NotContains(t, out, "PREVIOUS SCENE")
	assert.Contains(t, out, "**Period:** Contemporary")
}

func writeFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
