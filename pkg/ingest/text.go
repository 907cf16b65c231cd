package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	blankRun      = regexp.MustCompile(`\n\s*\n\s*\n+`)
	hyphenBreak   = regexp.MustCompile(`(\w+)-[ \t]*\n[ \t]*(\w+)`)
	inlineSpace   = regexp.MustCompile(`[ \t]+`)
	utf8BOM       = []byte{0xEF, 0xBB, 0xBF}
	supportedExts = []string{".txt", ".md", ".html", ".htm", ".xhtml"}
)

// LoadText reads a manuscript and returns its cleaned text.
func LoadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Decode(path, data)
}

// Decode turns file contents into cleaned text, picking the format from the
// file extension.
func Decode(name string, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return CleanText(string(data)), nil
	case ".html", ".htm", ".xhtml":
		text, err := ExtractHTML(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", filepath.Base(name), err)
		}
		return CleanText(text), nil
	default:
		return "", fmt.Errorf("unsupported file type %q (want one of %s)", filepath.Ext(name), strings.Join(supportedExts, ", "))
	}
}

// CleanText normalizes whitespace while keeping paragraph breaks and joins
// words hyphenated across line ends.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankRun.ReplaceAllString(text, "\n\n")
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = inlineSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractHTML returns the visible text of an HTML document, one paragraph per
// block element. Script, style and head content is skipped.
func ExtractHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	root := findBody(doc)
	if root == nil {
		root = doc
	}
	w := &blockWriter{}
	walk(root, w)
	w.flush()
	return strings.Join(w.paras, "\n\n"), nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if res := findBody(c); res != nil {
			return res
		}
	}
	return nil
}

// blockWriter collects inline text and cuts a paragraph at each block boundary.
type blockWriter struct {
	cur   strings.Builder
	paras []string
}

func (w *blockWriter) flush() {
	p := strings.Join(strings.Fields(w.cur.String()), " ")
	w.cur.Reset()
	if p != "" {
		w.paras = append(w.paras, p)
	}
}

func skipped(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Head, atom.Noscript, atom.Template, atom.Sup:
		return true
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Tr, atom.Br, atom.Hr:
		return true
	}
	return false
}

func walk(n *html.Node, w *blockWriter) {
	switch n.Type {
	case html.TextNode:
		w.cur.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped(n.DataAtom) {
			return
		}
	}
	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, w)
	}
	if block {
		w.flush()
	}
}
