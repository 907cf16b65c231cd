package model

// VisualComposition is the shot plan for a scene's key moment.
type VisualComposition struct {
	KeyMomentDescription string `json:"key_moment_description"`
	Foreground           string `json:"foreground"`
	Midground            string `json:"midground"`
	Background           string `json:"background"`
	Lighting             string `json:"lighting"`
	CameraMovement       string `json:"camera_movement"`
	ColourPalette        string `json:"colour_palette"`
}

// SceneBreakdown is the self-contained production sheet for one scene.
type SceneBreakdown struct {
	BreakdownID                string            `json:"breakdown_id" validate:"required"`
	SceneID                    string            `json:"scene_id" validate:"required"`
	SceneNumber                int               `json:"scene_number" validate:"gte=1"`
	SlugLine                   string            `json:"slug_line"`
	EmotionalBeat              string            `json:"emotional_beat"`
	NarrativePurpose           string            `json:"narrative_purpose"`
	Composition                VisualComposition `json:"composition"`
	CharactersWithDescriptions map[string]string `json:"characters_with_descriptions"`
	LocationVisualDescription  string            `json:"location_visual_description"`
	PropsAndSetDressing        []string          `json:"props_and_set_dressing"`
	AmbientSound               string            `json:"ambient_sound"`
	DialoguePresent            bool              `json:"dialogue_present"`
	MusicMood                  string            `json:"music_mood"`
	SpecialRequirements        []string          `json:"special_requirements"`
	EstimatedClipCount         int               `json:"estimated_clip_count" validate:"gte=1"`
	ContinuityNotes            string            `json:"continuity_notes"`
	PromptReady                bool              `json:"prompt_ready"`
}

func (b *SceneBreakdown) Validate() error { return check("scene breakdown", b) }

// MissingFields lists the required fields that are still empty for the given
// characters present in the scene.
func (b *SceneBreakdown) MissingFields(present []string) []string {
	var missing []string
	for _, name := range present {
		if b.CharactersWithDescriptions[name] == "" {
			missing = append(missing, "characters_with_descriptions."+name)
		}
	}
	if b.LocationVisualDescription == "" {
		missing = append(missing, "location_visual_description")
	}
	if b.SlugLine == "" {
		missing = append(missing, "slug_line")
	}
	if b.Composition.KeyMomentDescription == "" {
		missing = append(missing, "composition.key_moment_description")
	}
	return missing
}
