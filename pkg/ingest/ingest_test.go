package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/pkg/db"
	"storyreel/pkg/store"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses blank runs", "one\n\n\n\ntwo", "one\n\ntwo"},
		{"joins hyphenated breaks", "a hyph-\nenated word", "a hyphenated word"},
		{"normalizes spaces", "  Hello \t  world  ", "Hello world"},
		{"windows newlines", "a\r\n\r\n\r\nb", "a\n\nb"},
		{"keeps real hyphens", "well-known", "well-known"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestExtractHTML(t *testing.T) {
	doc := `<html><head><title>Ignored</title><style>p { color: red }</style></head><body>
<h1>Chapter 1</h1>
<p>It was a <b>dark</b> and
   stormy night.<sup>[1]</sup></p>
<script>var x = "hidden";</script>
<div>Second para</div>
</body></html>`
	text, err := ExtractHTML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1\n\nIt was a dark and stormy night.\n\nSecond para", text)
}

func TestDecode(t *testing.T) {
	text, err := Decode("book.TXT", []byte("\xEF\xBB\xBFHello   there"))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)

	text, err = Decode("book.xhtml", []byte("<html><body><p>Hi</p></body></html>"))
	require.NoError(t, err)
	assert.Equal(t, "Hi", text)

	_, err = Decode("book.pdf", []byte("%PDF"))
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestSplitChapters(t *testing.T) {
	text := "The Title\nby Someone\n\nChapter 1\nIt began.\n\nCHAPTER II: The Storm\nRain fell.\n\nPart Three\nEnd."
	chapters := SplitChapters(text)
	require.Len(t, chapters, 4)

	wantNumbers := []int{0, 1, 2, 3}
	wantHeadings := []string{"", "Chapter 1", "CHAPTER II: The Storm", "Part Three"}
	for i, ch := range chapters {
		assert.Equal(t, wantNumbers[i], ch.Number)
		assert.Equal(t, wantHeadings[i], ch.Heading)
		assert.Equal(t, ch.Text, text[ch.Offset:ch.Offset+len(ch.Text)], "offset of chapter %d", i)
	}
	assert.Equal(t, "Chapter 1\nIt began.", chapters[1].Text)
	assert.Equal(t, "Part Three\nEnd.", chapters[3].Text)
}

func TestSplitChapters_NoHeadings(t *testing.T) {
	tests := []string{
		"Just a story.\n\nWith paragraphs.",
		"Part of the plan failed.\nChapter and verse were quoted.",
		"She read chapter 3 twice.",
	}
	for _, text := range tests {
		chapters := SplitChapters(text)
		require.Len(t, chapters, 1, text)
		assert.Equal(t, 1, chapters[0].Number)
		assert.Equal(t, text, chapters[0].Text)
	}
	assert.Empty(t, SplitChapters("  \n "))
}

func TestChunker(t *testing.T) {
	words := make([]string, 10)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	ch := Chapter{Number: 2, Text: strings.Join(words, " "), Offset: 100}

	chunks := Chunker{Size: 8, Overlap: 4}.Chunk("Title", []Chapter{ch})
	require.Len(t, chunks, 3)

	assert.Equal(t, "w0 w1 w2 w3 w4 w5", chunks[0].Text)
	assert.Equal(t, "w3 w4 w5 w6 w7 w8", chunks[1].Text)
	assert.Equal(t, "w6 w7 w8 w9", chunks[2].Text)

	assert.Equal(t, 8, chunks[0].TokenCount)
	assert.Equal(t, 5, chunks[2].TokenCount)
	assert.Equal(t, 100, chunks[0].StartChar)
	assert.Equal(t, 117, chunks[0].EndChar)
	assert.Equal(t, 109, chunks[1].StartChar)

	ids := map[string]bool{}
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 2, c.ChapterNumber)
		assert.Equal(t, "Title", c.NovelTitle)
		assert.NoError(t, c.Validate())
		ids[c.ChunkID] = true
	}
	assert.Len(t, ids, 3)
}

func TestChunker_SmallChapterIsOneChunk(t *testing.T) {
	chunks := DefaultChunker().Chunk("T", []Chapter{{Number: 1, Text: "A short chapter."}, {Number: 2, Text: "Another."}})
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[1].ChunkIndex)
	assert.Equal(t, 2, chunks[1].ChapterNumber)
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return store.NewSQLiteStore(d)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	dir := t.TempDir()

	var b strings.Builder
	for c := 1; c <= 3; c++ {
		fmt.Fprintf(&b, "Chapter %d\n\n", c)
		for w := 0; w < 40; w++ {
			fmt.Fprintf(&b, "word%d ", w)
		}
		b.WriteString("\n\n")
	}
	path := filepath.Join(dir, "the_time-machine.txt")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	in := New(s, Chunker{Size: 40, Overlap: 8})
	res, err := in.Ingest(ctx, path, "")
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, "the time machine", res.Novel.Title)
	assert.Equal(t, 3, res.Novel.ChapterCount)
	assert.Equal(t, 3*42, res.Novel.WordCount)
	assert.Len(t, res.Novel.FileHash, 64)

	stored, err := s.GetChunks(ctx, res.Novel.ID)
	require.NoError(t, err)
	assert.Len(t, stored, res.Chunks)
	for i := 1; i < len(stored); i++ {
		prev, cur := stored[i-1], stored[i]
		ordered := prev.ChapterNumber < cur.ChapterNumber ||
			(prev.ChapterNumber == cur.ChapterNumber && prev.ChunkIndex < cur.ChunkIndex)
		assert.True(t, ordered, "chunk %d out of order", i)
	}

	again, err := in.Ingest(ctx, path, "Other Title")
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, res.Novel.ID, again.Novel.ID)
	assert.Equal(t, res.Chunks, again.Chunks)

	novels, err := s.ListNovels(ctx)
	require.NoError(t, err)
	assert.Len(t, novels, 1)
}

func TestIngest_Errors(t *testing.T) {
	ctx := context.Background()
	in := New(newStore(t), DefaultChunker())
	dir := t.TempDir()

	_, err := in.Ingest(ctx, filepath.Join(dir, "missing.txt"), "")
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("   \n\n  "), 0o644))
	_, err = in.Ingest(ctx, empty, "")
	assert.ErrorContains(t, err, "no text")

	pdf := filepath.Join(dir, "book.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))
	_, err = in.Ingest(ctx, pdf, "")
	assert.ErrorContains(t, err, "unsupported")
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "moby dick", TitleFromPath("/books/moby_dick.txt"))
	assert.Equal(t, "War and Peace", TitleFromPath("War and Peace.html"))
}
