package prompts

import "storyreel/pkg/model"

// TextData feeds the single-text bible prompts.
type TextData struct {
	Text string
}

// MergeData feeds merge_characters.
type MergeData struct {
	Profiles []model.CharacterProfile
}

// ActStructureData feeds act_structure.
type ActStructureData struct {
	Plot        model.PlotSummary
	TotalChunks int
}

// SceneData feeds scene. Characters and Locations are already capped.
type SceneData struct {
	Characters []model.CharacterProfile
	Locations  []model.Location
	Tone       model.NarrativeTone
	Timeline   model.TimelinePeriod
	Previous   *model.ScreenplayScene
	Context    string
	Act        string
	Guidance   string
	Text       string
}

// ContinuityData feeds continuity.
type ContinuityData struct {
	Previous *model.ScreenplayScene
	Current  *model.ScreenplayScene
}

// BreakdownData feeds breakdown.
type BreakdownData struct {
	Scene               *model.ScreenplayScene
	Characters          map[string]string
	LocationDescription string
	Tone                model.NarrativeTone
	Timeline            model.TimelinePeriod
}

// ActGuidance is the pacing note given to the scene prompt per act.
var ActGuidance = map[string]string{
	model.ActOne:   "This is Act 1. Establish the world, characters, and normal life. Pacing can be slower. Build atmosphere.",
	model.ActTwoA:  "This is Act 2A (rising action). Tension increases, conflicts emerge. Scenes can be shorter, cuts faster.",
	model.ActTwoB:  "This is Act 2B (post-midpoint). Stakes are high, pressure building toward climax. Keep scenes tight and punchy.",
	model.ActThree: "This is Act 3 (climax and resolution). Lean, intense, fast-paced. Every scene must drive toward conclusion.",
}
