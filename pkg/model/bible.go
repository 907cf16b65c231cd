package model

import (
	"strings"
	"time"
)

// Character roles.
const (
	RoleProtagonist = "protagonist"
	RoleAntagonist  = "antagonist"
	RoleSupporting  = "supporting"
	RoleMinor       = "minor"
)

// NormalizeRole maps free-form role labels to the known set; anything else becomes minor.
func NormalizeRole(role string) string {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case RoleProtagonist, RoleAntagonist, RoleSupporting, RoleMinor:
		return r
	default:
		return RoleMinor
	}
}

// CharacterProfile describes one character as seen across the novel.
type CharacterProfile struct {
	Name                 string            `json:"name" validate:"required"`
	Aliases              []string          `json:"aliases"`
	Role                 string            `json:"role" validate:"oneof=protagonist antagonist supporting minor"`
	PhysicalDescription  string            `json:"physical_description"`
	Personality          string            `json:"personality"`
	BackstorySummary     string            `json:"backstory_summary"`
	Relationships        map[string]string `json:"relationships"`
	FirstAppearanceChunk string            `json:"first_appearance_chunk"`
	NotableQuotes        []string          `json:"notable_quotes"`
}

// Validate normalizes the role and checks required fields.
func (c *CharacterProfile) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Role = NormalizeRole(c.Role)
	return check("character", c)
}

// Location is a place the story visits.
type Location struct {
	Name                 string   `json:"name" validate:"required"`
	LocationType         string   `json:"location_type"`
	VisualDescription    string   `json:"visual_description"`
	Atmosphere           string   `json:"atmosphere"`
	AssociatedCharacters []string `json:"associated_characters"`
	Significance         string   `json:"significance"`
}

func (l *Location) Validate() error {
	l.Name = strings.TrimSpace(l.Name)
	return check("location", l)
}

// TimelinePeriod is the setting in time.
type TimelinePeriod struct {
	Description     string `json:"description"`
	Era             string `json:"era" validate:"required"`
	TechnologyLevel string `json:"technology_level"`
	CulturalNotes   string `json:"cultural_notes"`
}

func (t *TimelinePeriod) Validate() error { return check("timeline", t) }

// DefaultTimeline is used when the period cannot be extracted.
func DefaultTimeline() TimelinePeriod {
	return TimelinePeriod{
		Description:     "Contemporary",
		Era:             "Modern",
		TechnologyLevel: "Current",
		CulturalNotes:   "",
	}
}

// NarrativeTone captures genre, mood and style.
type NarrativeTone struct {
	Genre           []string `json:"genre" validate:"min=1"`
	Mood            string   `json:"mood" validate:"required"`
	Pacing          string   `json:"pacing"`
	StyleNotes      string   `json:"style_notes"`
	ViolenceLevel   string   `json:"violence_level"`
	ContentWarnings []string `json:"content_warnings"`
}

func (t *NarrativeTone) Validate() error { return check("tone", t) }

// DefaultTone is used when the tone cannot be extracted.
func DefaultTone() NarrativeTone {
	return NarrativeTone{
		Genre:         []string{"unknown"},
		Mood:          "neutral",
		Pacing:        "moderate",
		ViolenceLevel: "unknown",
	}
}

// PlotSummary holds the logline, synopsis and act outline.
type PlotSummary struct {
	Logline   string   `json:"logline"`
	Synopsis  string   `json:"synopsis"`
	Acts      []string `json:"acts"`
	KeyThemes []string `json:"key_themes"`
}

func (p *PlotSummary) Validate() error { return check("plot", p) }

// StoryBible is the canonical reference extracted from a novel.
type StoryBible struct {
	NovelTitle       string             `json:"novel_title" validate:"required"`
	ExtractionDate   time.Time          `json:"extraction_date"`
	Characters       []CharacterProfile `json:"characters" validate:"dive"`
	Locations        []Location         `json:"locations" validate:"dive"`
	Timeline         TimelinePeriod     `json:"timeline"`
	Tone             NarrativeTone      `json:"tone"`
	Plot             PlotSummary        `json:"plot"`
	WorldRules       []string           `json:"world_rules"`
	VisualStyleNotes string             `json:"visual_style_notes"`
}

func (b *StoryBible) Validate() error {
	for i := range b.Characters {
		b.Characters[i].Role = NormalizeRole(b.Characters[i].Role)
	}
	return check("story bible", b)
}

// FindCharacter resolves a character by exact name or alias.
func (b *StoryBible) FindCharacter(name string) (*CharacterProfile, bool) {
	if b == nil {
		return nil, false
	}
	for i := range b.Characters {
		if b.Characters[i].Name == name {
			return &b.Characters[i], true
		}
	}
	for i := range b.Characters {
		for _, alias := range b.Characters[i].Aliases {
			if alias == name {
				return &b.Characters[i], true
			}
		}
	}
	return nil, false
}

// FindLocation resolves a location by exact name.
func (b *StoryBible) FindLocation(name string) (*Location, bool) {
	if b == nil {
		return nil, false
	}
	for i := range b.Locations {
		if b.Locations[i].Name == name {
			return &b.Locations[i], true
		}
	}
	return nil, false
}
