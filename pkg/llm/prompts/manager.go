package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"storyreel/pkg/llm"
)

//go:embed templates
var embedded embed.FS

// Templates maps each call profile to its template.
var Templates = map[string]string{
	llm.ProfileCharacters:      "bible/characters.tmpl",
	llm.ProfileLocations:       "bible/locations.tmpl",
	llm.ProfileTone:            "bible/tone.tmpl",
	llm.ProfilePlot:            "bible/plot.tmpl",
	llm.ProfileWorldRules:      "bible/world_rules.tmpl",
	llm.ProfileTimeline:        "bible/timeline.tmpl",
	llm.ProfileMergeCharacters: "bible/merge_characters.tmpl",
	llm.ProfileActStructure:    "screenplay/act_structure.tmpl",
	llm.ProfileScene:           "screenplay/scene.tmpl",
	llm.ProfileContinuity:      "screenplay/continuity.tmpl",
	llm.ProfileBreakdown:       "breakdown/breakdown.tmpl",
}

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// NewManager loads templates from dir, or the built-in set when dir is empty.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, err
		}
		return NewManagerFS(sub)
	}
	return NewManagerFS(os.DirFS(dir))
}

// NewManagerFS loads every .tmpl file of fsys. Files under common/ are parsed
// first so other templates can use the blocks they define.
func NewManagerFS(fsys fs.FS) (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"truncate": llm.Truncate,
		"tail":     llm.Tail,
		"join":     joinFunc,
		"json":     jsonFunc,
		"inc":      func(i int) int { return i + 1 },
		"dec":      func(i int) int { return i - 1 },
	})

	if err := m.load(fsys, true); err != nil {
		return nil, fmt.Errorf("loading common templates: %w", err)
	}
	if err := m.load(fsys, false); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return m, nil
}

func (m *Manager) load(fsys fs.FS, common bool) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		if strings.HasPrefix(path, "common/") != common {
			return nil
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}

		t := m.root
		if !common {
			t = m.root.New(path)
		}
		if _, err := t.Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	})
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderProfile renders the template registered for a call profile.
func (m *Manager) RenderProfile(profile string, data any) (string, error) {
	name, ok := Templates[profile]
	if !ok {
		return "", fmt.Errorf("no template for profile %q", profile)
	}
	return m.Render(name, data)
}

// Check reports profiles whose template is missing, so a broken prompts_dir
// fails at startup instead of mid-run.
func (m *Manager) Check() error {
	var missing []string
	for _, profile := range llm.Profiles {
		if m.root.Lookup(Templates[profile]) == nil {
			missing = append(missing, Templates[profile])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing prompt templates: %s", strings.Join(missing, ", "))
	}
	return nil
}

func joinFunc(items []string, sep string) string {
	return strings.Join(items, sep)
}

func jsonFunc(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
