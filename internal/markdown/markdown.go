// Package markdown renders merged documents to HTML, with LaTeX formulas
// converted to MathML.
package markdown

import (
	"bytes"
	"fmt"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			treeblood.MathML(),
		),
	)
}

// HTML converts source to an HTML fragment. $...$ and $$...$$ spans become
// MathML.
func HTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := newMarkdown().Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// Heading is one entry of a document outline.
type Heading struct {
	Level int
	Text  string
}

// Outline lists the headings of source in document order.
func Outline(source string) []Heading {
	src := []byte(source)
	doc := newMarkdown().Parser().Parse(text.NewReader(src))
	var out []Heading
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		if h, ok := child.(*ast.Heading); ok {
			out = append(out, Heading{Level: h.Level, Text: string(h.Text(src))})
		}
	}
	return out
}
