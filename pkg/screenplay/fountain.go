package screenplay

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"storyreel/pkg/model"
)

var (
	slugPattern = regexp.MustCompile(`(?i)^(INT\.|EXT\.|INT\./EXT\.|I/E\.) (.+?) - (.+?)$`)
	notePattern = regexp.MustCompile(`\[NOTE:\s*([^\]]+?)\s*\]`)
)

const (
	linesPerPage   = 55
	defaultBeat    = "Scene progression"
	maxCueWords    = 5
	dialogueIndent = "                    "
	parenIndent    = "          "
	lineIndent     = "        "
)

// isUpper reports whether s has at least one cased letter and no lower-case ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func isCue(line string) bool {
	return line != "" &&
		isUpper(line) &&
		!strings.HasSuffix(line, ":") &&
		len(strings.Fields(line)) < maxCueWords
}

// ParseFountain splits Fountain text into scenes. Scenes are numbered from
// start and tagged with chunkIDs. Text before the first slug line is ignored,
// as are slug lines followed only by blank lines.
func ParseFountain(text string, start int, chunkIDs []string, names *NameResolver) []model.ScreenplayScene {
	var scenes []model.ScreenplayScene
	var slug string
	var body []string
	number := start

	flush := func() {
		if slug == "" || !hasContent(body) {
			return
		}
		if s, ok := buildScene(slug, body, number, chunkIDs, names); ok {
			scenes = append(scenes, s)
			number++
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if slugPattern.MatchString(line) {
			flush()
			slug = line
			body = nil
			continue
		}
		if slug != "" {
			body = append(body, line)
		}
	}
	flush()
	return scenes
}

func buildScene(slug string, lines []string, number int, chunkIDs []string, names *NameResolver) (model.ScreenplayScene, bool) {
	m := slugPattern.FindStringSubmatch(slug)
	if m == nil {
		return model.ScreenplayScene{}, false
	}

	var action []string
	var dialogue []model.DialogueLine
	var notes []string
	present := newNameSet()

	for i := 0; i < len(lines); {
		line := lines[i]
		if !isCue(line) {
			if line != "" {
				action = append(action, line)
				for _, n := range notePattern.FindAllStringSubmatch(line, -1) {
					notes = append(notes, n[1])
				}
			}
			i++
			continue
		}

		cue := line
		i++
		var paren string
		if i < len(lines) && strings.HasPrefix(lines[i], "(") && strings.HasSuffix(lines[i], ")") {
			paren = strings.Trim(lines[i], "()")
			i++
		}
		var spoken []string
		for i < len(lines) && lines[i] != "" && !isUpper(lines[i]) {
			spoken = append(spoken, lines[i])
			i++
		}
		if len(spoken) == 0 {
			continue
		}
		dialogue = append(dialogue, model.DialogueLine{
			Character:     cue,
			Line:          strings.Join(spoken, " "),
			Parenthetical: paren,
		})
		name, _ := names.Resolve(cue)
		present.add(name)
	}

	actionText := strings.Join(action, " ")
	for _, n := range names.Mentions(actionText) {
		present.add(n)
	}

	sceneType := model.SceneAction
	if len(dialogue) > 0 {
		sceneType = model.SceneDialogue
	}
	beat := defaultBeat
	if len(action) > 0 {
		beat = action[0]
	}

	ids := make([]string, len(chunkIDs))
	copy(ids, chunkIDs)

	return model.ScreenplayScene{
		SceneID:           uuid.NewString(),
		SceneNumber:       number,
		SlugLine:          slug,
		InteriorExterior:  strings.ToUpper(strings.TrimSpace(m[1])),
		LocationName:      strings.TrimSpace(m[2]),
		TimeOfDay:         strings.ToUpper(strings.TrimSpace(m[3])),
		ActionLines:       strings.Join(action, "\n"),
		Dialogue:          dialogue,
		CharactersPresent: present.list,
		SceneType:         sceneType,
		EmotionalBeat:     beat,
		AdaptationNotes:   notes,
		SourceChunkIDs:    ids,
	}, true
}

func hasContent(lines []string) bool {
	for _, l := range lines {
		if l != "" {
			return true
		}
	}
	return false
}

// nameSet keeps first-seen order.
type nameSet struct {
	seen map[string]bool
	list []string
}

func newNameSet() *nameSet { return &nameSet{seen: make(map[string]bool)} }

func (s *nameSet) add(name string) {
	if name == "" || s.seen[name] {
		return
	}
	s.seen[name] = true
	s.list = append(s.list, name)
}

// Renumber sets scene numbers to 1..N in slice order.
func Renumber(scenes []model.ScreenplayScene) {
	for i := range scenes {
		scenes[i].SceneNumber = i + 1
	}
}

// PageEstimate approximates the page count at 55 lines a page: two lines per
// scene heading, one per action line and four per dialogue entry.
func PageEstimate(scenes []model.ScreenplayScene) int {
	lines := 0
	for _, s := range scenes {
		lines += 2
		lines += len(strings.Split(s.ActionLines, "\n"))
		lines += 4 * len(s.Dialogue)
	}
	return max(1, lines/linesPerPage)
}

// FormatFountain renders the screenplay with a title page.
func FormatFountain(sp *model.Screenplay) string {
	lines := []string{
		"Title: " + sp.NovelTitle,
		"Draft: Screenplay Adaptation",
		"Based on: " + sp.NovelTitle,
		"",
		"===",
		"",
	}
	for i := range sp.Scenes {
		lines = append(lines, FormatScene(&sp.Scenes[i]), "")
	}
	return strings.Join(lines, "\n")
}

// FormatScene renders one scene.
func FormatScene(s *model.ScreenplayScene) string {
	lines := []string{s.SlugLine, ""}
	if s.ActionLines != "" {
		lines = append(lines, s.ActionLines, "")
	}
	if len(s.Dialogue) > 0 {
		var block []string
		for _, d := range s.Dialogue {
			block = append(block, dialogueIndent+strings.ToUpper(d.Character))
			if d.Parenthetical != "" {
				block = append(block, parenIndent+"("+d.Parenthetical+")")
			}
			block = append(block, lineIndent+d.Line, "")
		}
		lines = append(lines, strings.Join(block, "\n"))
	}
	return strings.Join(lines, "\n")
}
