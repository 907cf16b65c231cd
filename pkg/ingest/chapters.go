package ingest

import (
	"regexp"
	"strings"
)

// headingPattern matches chapter heading lines such as "Chapter 12",
// "CHAPTER IV: The Storm" or "Part One".
var headingPattern = regexp.MustCompile(`(?im)^[ \t]*(?:chapter|part)[ \t]+(?:\d+|[ivxlcdm]+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty)\b(?:[ \t]*[:.\-–—][^\n]*)?[ \t]*$`)

// Chapter is a slice of the novel text starting at a heading.
type Chapter struct {
	Number  int
	Heading string
	Text    string
	Offset  int // byte offset of Text in the full novel text
}

// SplitChapters cuts text at heading lines. Chapters are numbered from 1 in
// order of appearance; non-blank text before the first heading becomes
// chapter 0. Text without headings is a single chapter.
func SplitChapters(text string) []Chapter {
	locs := headingPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Chapter{{Number: 1, Text: text}}
	}

	var chapters []Chapter
	if front := text[:locs[0][0]]; strings.TrimSpace(front) != "" {
		chapters = append(chapters, Chapter{Number: 0, Text: strings.TrimRight(front, " \t\n"), Offset: 0})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		chapters = append(chapters, Chapter{
			Number:  i + 1,
			Heading: strings.TrimSpace(text[loc[0]:loc[1]]),
			Text:    strings.TrimRight(text[loc[0]:end], " \t\n"),
			Offset:  loc[0],
		})
	}
	return chapters
}
