package llm

import (
	"context"
)

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is the raw result of one model call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Provider defines the interface for interacting with LLM services.
// Profiles name the kind of call (characters, scene, breakdown...) and let a
// provider pick a model per call type.
type Provider interface {
	// Name identifies the provider in logs and stats.
	Name() string

	// GenerateText sends a prompt and returns the text response.
	GenerateText(ctx context.Context, profile, prompt string) (*Response, error)

	// GenerateJSON sends a prompt with a JSON-output hint. The text is returned
	// raw; callers coerce it.
	GenerateJSON(ctx context.Context, profile, prompt string) (*Response, error)

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error

	// HasProfile checks if the provider can serve a specific profile.
	HasProfile(profile string) bool
}

// Call profiles used by the pipeline.
const (
	ProfileCharacters      = "characters"
	ProfileLocations       = "locations"
	ProfileTone            = "tone"
	ProfilePlot            = "plot"
	ProfileWorldRules      = "world_rules"
	ProfileTimeline        = "timeline"
	ProfileMergeCharacters = "merge_characters"
	ProfileActStructure    = "act_structure"
	ProfileScene           = "scene"
	ProfileBreakdown       = "breakdown"
	ProfileContinuity      = "continuity"
)

// Profiles lists every call profile.
var Profiles = []string{
	ProfileCharacters, ProfileLocations, ProfileTone, ProfilePlot, ProfileWorldRules,
	ProfileTimeline, ProfileMergeCharacters, ProfileActStructure, ProfileScene,
	ProfileBreakdown, ProfileContinuity,
}
