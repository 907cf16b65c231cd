package ingest

import (
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"storyreel/pkg/model"
)

// Chunker cuts chapters into overlapping token windows. Tokens are estimated
// from words at 4 tokens per 3 words.
type Chunker struct {
	Size    int // tokens per window
	Overlap int // tokens shared with the previous window
}

// DefaultChunker returns the 800/100 token chunker.
func DefaultChunker() Chunker { return Chunker{Size: 800, Overlap: 100} }

// EstimateTokens converts a word count to a token estimate.
func EstimateTokens(words int) int { return words * 4 / 3 }

func (c Chunker) windowWords() (size, step int) {
	size = max(1, c.Size*3/4)
	overlap := max(0, c.Overlap*3/4)
	step = size - overlap
	if step < 1 {
		step = 1
	}
	return size, step
}

// Chunk builds the chunks of every chapter in order. Offsets are byte offsets
// into the full novel text.
func (c Chunker) Chunk(title string, chapters []Chapter) []model.NarrativeChunk {
	size, step := c.windowWords()
	var out []model.NarrativeChunk
	for _, ch := range chapters {
		words := wordSpans(ch.Text)
		index := 0
		for start := 0; start < len(words); start += step {
			end := min(start+size, len(words))
			from, to := words[start][0], words[end-1][1]
			out = append(out, model.NarrativeChunk{
				ChunkID:       uuid.NewString(),
				NovelTitle:    title,
				ChapterNumber: ch.Number,
				ChunkIndex:    index,
				Text:          ch.Text[from:to],
				TokenCount:    EstimateTokens(end - start),
				StartChar:     ch.Offset + from,
				EndChar:       ch.Offset + to,
			})
			index++
			if end == len(words) {
				break
			}
		}
	}
	return out
}

// wordSpans returns the [start, end) byte span of each whitespace-separated word.
func wordSpans(text string) [][2]int {
	var spans [][2]int
	start := -1
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += w
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(text)})
	}
	return spans
}
