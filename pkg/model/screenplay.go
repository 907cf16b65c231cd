package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scene types.
const (
	SceneDialogue = "dialogue"
	SceneAction   = "action"
)

// DialogueLine is one spoken line under a character cue.
type DialogueLine struct {
	Character     string `json:"character" validate:"required"`
	Line          string `json:"line" validate:"required"`
	Parenthetical string `json:"parenthetical,omitempty"`
}

// ScreenplayScene is a single slug-lined scene.
type ScreenplayScene struct {
	SceneID           string         `json:"scene_id" validate:"required"`
	SceneNumber       int            `json:"scene_number" validate:"gte=1"`
	SlugLine          string         `json:"slug_line" validate:"required"`
	InteriorExterior  string         `json:"interior_exterior"`
	LocationName      string         `json:"location_name"`
	TimeOfDay         string         `json:"time_of_day"`
	ActionLines       string         `json:"action_lines"`
	Dialogue          []DialogueLine `json:"dialogue" validate:"dive"`
	CharactersPresent []string       `json:"characters_present"`
	SceneType         string         `json:"scene_type" validate:"oneof=dialogue action transition montage"`
	EmotionalBeat     string         `json:"emotional_beat"`
	AdaptationNotes   []string       `json:"adaptation_notes"`
	SourceChunkIDs    []string       `json:"source_chunk_ids"`
}

func (s *ScreenplayScene) Validate() error { return check("scene", s) }

// ChunkRange is an inclusive [start, end] pair of chunk indices.
// A range with End == Start-1 is empty.
type ChunkRange [2]int

func (r ChunkRange) Start() int { return r[0] }
func (r ChunkRange) End() int   { return r[1] }

// Contains reports whether chunk index i falls inside the range.
func (r ChunkRange) Contains(i int) bool { return i >= r[0] && i <= r[1] }

// Len returns the number of chunk indices covered.
func (r ChunkRange) Len() int { return r[1] - r[0] + 1 }

// Act labels returned by ActStructure.Position.
const (
	ActOne   = "Act 1"
	ActTwoA  = "Act 2A"
	ActTwoB  = "Act 2B"
	ActThree = "Act 3"
)

// ActStructure partitions the chunk sequence into four acts.
type ActStructure struct {
	ActOne   ChunkRange `json:"act_one_chunk_range"`
	ActTwoA  ChunkRange `json:"act_two_a_chunk_range"`
	ActTwoB  ChunkRange `json:"act_two_b_chunk_range"`
	ActThree ChunkRange `json:"act_three_chunk_range"`
}

func (a *ActStructure) ranges() []ChunkRange {
	return []ChunkRange{a.ActOne, a.ActTwoA, a.ActTwoB, a.ActThree}
}

// Validate checks that the acts are contiguous, non-overlapping and cover
// [0, total-1] exactly. Empty acts are only accepted when total < 4.
func (a *ActStructure) Validate(total int) error {
	if total <= 0 {
		return Invalid("act structure", "no chunks to partition")
	}
	next := 0
	for i, r := range a.ranges() {
		if r.Start() != next {
			return Invalid("act structure", "act %d starts at %d, expected %d", i+1, r.Start(), next)
		}
		if r.Len() < 0 || (r.Len() == 0 && total >= 4) {
			return Invalid("act structure", "act %d range [%d, %d] is empty or inverted", i+1, r.Start(), r.End())
		}
		next = r.End() + 1
	}
	if next != total {
		return Invalid("act structure", "acts end at %d, expected %d", next-1, total-1)
	}
	return nil
}

// Position returns the act label for chunk index i. Anything outside the
// first three acts is Act 3.
func (a *ActStructure) Position(i int) string {
	switch {
	case a.ActOne.Contains(i):
		return ActOne
	case a.ActTwoA.Contains(i):
		return ActTwoA
	case a.ActTwoB.Contains(i):
		return ActTwoB
	default:
		return ActThree
	}
}

// EvenActSplit divides total chunks into four acts by index. Acts may be empty
// when total < 4.
func EvenActSplit(total int) ActStructure {
	b := func(k int) int { return k * total / 4 }
	mk := func(k int) ChunkRange { return ChunkRange{b(k), b(k+1) - 1} }
	return ActStructure{ActOne: mk(0), ActTwoA: mk(1), ActTwoB: mk(2), ActThree: mk(3)}
}

// UnmarshalJSON accepts ranges as two-element arrays and rejects any other length.
func (r *ChunkRange) UnmarshalJSON(data []byte) error {
	var vals []int
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	if len(vals) != 2 {
		return fmt.Errorf("chunk range needs 2 values, got %d", len(vals))
	}
	r[0], r[1] = vals[0], vals[1]
	return nil
}

// Screenplay is the full adapted script for a novel.
type Screenplay struct {
	ScreenplayID      string            `json:"screenplay_id" validate:"required"`
	NovelID           string            `json:"novel_id" validate:"required"`
	NovelTitle        string            `json:"novel_title"`
	Scenes            []ScreenplayScene `json:"scenes" validate:"dive"`
	ActStructure      ActStructure      `json:"act_structure"`
	FountainText      string            `json:"fountain_text"`
	SceneCount        int               `json:"scene_count"`
	PageCountEstimate int               `json:"page_count_estimate" validate:"gte=0"`
	CreatedAt         time.Time         `json:"created_at"`
	ModelUsed         string            `json:"model_used"`
}

func (s *Screenplay) Validate() error {
	if err := check("screenplay", s); err != nil {
		return err
	}
	if s.SceneCount != len(s.Scenes) {
		return Invalid("screenplay", "scene_count %d does not match %d scenes", s.SceneCount, len(s.Scenes))
	}
	for i := range s.Scenes {
		if s.Scenes[i].SceneNumber != i+1 {
			return Invalid("screenplay", "scene %d numbered %d", i+1, s.Scenes[i].SceneNumber)
		}
	}
	return nil
}
