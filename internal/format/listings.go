package format

import (
	"time"

	"extractkit/internal/display"
	"extractkit/internal/engine"
	"extractkit/internal/markdown"
	"extractkit/internal/store"
)

// Engines lists registry entries with their availability.
func Engines(infos []engine.Info, m Mode) string {
	t := NewTable(m)
	t.Header("Engine", "Name", "Backend", "Available", "Note")
	for _, in := range infos {
		t.Row(in.ID, display.Engine(in.ID), in.Backend, BoolMark(in.Available), in.Reason)
	}
	return t.String()
}

// Outputs lists persisted outputs. now anchors the age column.
func Outputs(outs []*store.Output, now time.Time, m Mode) string {
	t := NewTable(m)
	t.Header("ID", "Kind", "Source", "Files", "Age", "Output dir")
	t.AlignRight(4)
	for _, o := range outs {
		t.Row(o.ID, display.KindWithCode(o.Kind), Truncate(o.SourceName, 40), len(o.Files), Age(now.Sub(o.CreatedAt)), o.OutputDir)
	}
	return t.String()
}

// Outline lists Markdown headings indented by level.
func Outline(headings []markdown.Heading, m Mode) string {
	t := NewTable(m)
	t.Header("Level", "Heading")
	for _, h := range headings {
		t.Row(h.Level, Truncate(h.Text, 80))
	}
	return t.String()
}
