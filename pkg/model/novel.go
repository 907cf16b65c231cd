package model

import "time"

// Novel is an ingested source manuscript.
type Novel struct {
	ID           string    `json:"id" validate:"required"`
	Title        string    `json:"title" validate:"required"`
	FilePath     string    `json:"file_path"`
	FileHash     string    `json:"file_hash" validate:"required"`
	WordCount    int       `json:"word_count" validate:"gte=0"`
	ChapterCount int       `json:"chapter_count" validate:"gte=0"`
	IngestedAt   time.Time `json:"ingested_at"`
}

func (n *Novel) Validate() error { return check("novel", n) }

// NarrativeChunk is a token window over a chapter of the novel.
// Canonical order is (ChapterNumber, ChunkIndex).
type NarrativeChunk struct {
	ChunkID       string `json:"chunk_id" validate:"required"`
	NovelTitle    string `json:"novel_title"`
	ChapterNumber int    `json:"chapter_number" validate:"gte=0"`
	ChunkIndex    int    `json:"chunk_index" validate:"gte=0"`
	Text          string `json:"text" validate:"required"`
	TokenCount    int    `json:"token_count" validate:"gte=0"`
	StartChar     int    `json:"start_char" validate:"gte=0"`
	EndChar       int    `json:"end_char" validate:"gtefield=StartChar"`
}

func (c *NarrativeChunk) Validate() error { return check("chunk", c) }

// ChunkTexts returns the text of each chunk in order.
func ChunkTexts(chunks []NarrativeChunk) []string {
	out := make([]string, len(chunks))
	for i := range chunks {
		out[i] = chunks[i].Text
	}
	return out
}

// Pipeline phases.
const (
	PhaseBible      = "bible"
	PhaseScreenplay = "screenplay"
	PhaseBreakdown  = "breakdown"
)

// Pipeline run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// PipelineRun records one execution of a pipeline phase for a novel.
type PipelineRun struct {
	ID         string     `json:"id" validate:"required"`
	NovelID    string     `json:"novel_id" validate:"required"`
	Phase      string     `json:"phase" validate:"oneof=bible screenplay breakdown"`
	Status     string     `json:"status" validate:"oneof=running completed failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	TokensUsed int64      `json:"tokens_used"`
	Error      string     `json:"error,omitempty"`
}

func (r *PipelineRun) Validate() error { return check("pipeline run", r) }
