package screenplay

import (
	"regexp"
	"strings"

	"storyreel/pkg/model"
)

// cueExtension matches Fountain cue extensions such as (V.O.) or (CONT'D).
var cueExtension = regexp.MustCompile(`\s*\([^)]*\)`)

// NameResolver maps character cues and action text onto Story Bible names.
type NameResolver struct {
	canonical map[string]string // lower-cased name or alias -> canonical name
	mentions  []mention
}

type mention struct {
	name string
	re   *regexp.Regexp
}

// NewNameResolver indexes the bible's characters. A nil bible resolves nothing.
func NewNameResolver(b *model.StoryBible) *NameResolver {
	r := &NameResolver{canonical: make(map[string]string)}
	if b == nil {
		return r
	}
	for _, c := range b.Characters {
		if c.Name == "" {
			continue
		}
		r.add(c.Name, c.Name)
		for _, a := range c.Aliases {
			r.add(a, c.Name)
		}
		// Name as written or shouted in caps, bounded by non-word runes.
		pattern := `(?:^|[^\p{L}\p{N}_])(?:` + regexp.QuoteMeta(c.Name) + `|` + regexp.QuoteMeta(strings.ToUpper(c.Name)) + `)(?:$|[^\p{L}\p{N}_])`
		r.mentions = append(r.mentions, mention{name: c.Name, re: regexp.MustCompile(pattern)})
	}
	return r
}

func (r *NameResolver) add(key, name string) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	// first writer wins so a name is never shadowed by another character's alias
	if _, ok := r.canonical[key]; !ok {
		r.canonical[key] = name
	}
}

// StripExtension removes Fountain cue decorations: parenthetical extensions,
// the dual-dialogue caret and the forced-character '@'.
func StripExtension(cue string) string {
	cue = cueExtension.ReplaceAllString(cue, "")
	cue = strings.TrimSpace(cue)
	cue = strings.TrimSuffix(cue, "^")
	cue = strings.TrimPrefix(cue, "@")
	return strings.TrimSpace(cue)
}

// Resolve returns the canonical name for a cue. Unknown cues come back
// stripped of extensions with ok false.
func (r *NameResolver) Resolve(cue string) (string, bool) {
	name := StripExtension(cue)
	if r == nil {
		return name, false
	}
	if canon, ok := r.canonical[strings.ToLower(name)]; ok {
		return canon, true
	}
	return name, false
}

// Mentions returns the canonical names found in text, in bible order.
func (r *NameResolver) Mentions(text string) []string {
	if r == nil || text == "" {
		return nil
	}
	var out []string
	for _, m := range r.mentions {
		if m.re.MatchString(text) {
			out = append(out, m.name)
		}
	}
	return out
}
