// Package normalize turns engine results into the JSON payloads returned to
// callers. It is the only package that interprets result shapes, and it never
// fails on missing or malformed optional fields; only reading a discovered
// visualization file can fail.
package normalize

import (
	"context"
	"maps"
	"math"

	"extractkit/internal/artifact"
	"extractkit/internal/engine"
	"extractkit/internal/taskspec"
)

// UnknownClass names class ids missing from a table.
const UnknownClass = "unknown"

// ClassTable maps detector class ids to names.
type ClassTable map[int]string

var (
	LayoutClasses = ClassTable{
		0: "title",
		1: "plain text",
		2: "abandon",
		3: "figure",
		4: "figure_caption",
		5: "table",
		6: "table_caption",
		7: "table_footnote",
		8: "isolate_formula",
		9: "formula_caption",
	}
	FormulaClasses = ClassTable{
		0: "inline",
		1: "isolated",
	}
)

// ClassesFor returns the table of a detection task kind; other kinds get an
// empty table, so every id resolves to UnknownClass.
func ClassesFor(kind taskspec.Kind) ClassTable {
	switch kind {
	case taskspec.KindLayoutDetection:
		return LayoutClasses
	case taskspec.KindFormulaDetection:
		return FormulaClasses
	}
	return ClassTable{}
}

// Name resolves id.
func (t ClassTable) Name(id int) string {
	if n, ok := t[id]; ok {
		return n
	}
	return UnknownClass
}

// Record is one normalized detection: an [x1, y1, x2, y2] box and a score
// in [0,1].
type Record struct {
	Box       [4]float64 `json:"box"`
	Class     int        `json:"class"`
	ClassName string     `json:"class_name"`
	Score     float64    `json:"score"`
}

// Records zips the triple index-aligned and stops at the shortest slice.
// Entries whose box is not four finite numbers, or whose score is NaN, are
// dropped; scores outside [0,1] are clamped.
func Records(d engine.Detections, table ClassTable) []Record {
	n := min(len(d.Boxes), len(d.Classes), len(d.Scores))
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		b, ok := box4(d.Boxes[i])
		if !ok || math.IsNaN(d.Scores[i]) {
			continue
		}
		id := int(d.Classes[i])
		out = append(out, Record{
			Box:       b,
			Class:     id,
			ClassName: table.Name(id),
			Score:     min(max(d.Scores[i], 0), 1),
		})
	}
	return out
}

func box4(v []float64) ([4]float64, bool) {
	var b [4]float64
	if len(v) != 4 {
		return b, false
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return b, false
		}
		b[i] = x
	}
	return b, true
}

// Raw is what one engine invocation produced: per-page results from a
// Detector, or a single result from a Processor.
type Raw struct {
	Paged bool
	Pages []engine.Result
	Whole engine.Result
}

// Normalize builds the payload for one task. Paged results become a list
// with one entry per page; a single result becomes one value. When visualize
// is set, images under outputDir are attached.
func Normalize(ctx context.Context, kind taskspec.Kind, raw Raw, outputDir string, visualize bool) (any, error) {
	table := ClassesFor(kind)
	if raw.Paged {
		pages := Pages(raw.Pages, table)
		if !visualize {
			return pages, nil
		}
		vis, err := artifact.Images(ctx, outputDir)
		if err != nil {
			return nil, err
		}
		return AttachToPages(pages, vis), nil
	}

	v := Value(raw.Whole, table)
	if !visualize {
		return v, nil
	}
	vis, err := artifact.Images(ctx, outputDir)
	if err != nil {
		return nil, err
	}
	return AttachToValue(v, vis), nil
}

// Pages converts per-page results. Detections become {"detections": [...]};
// opaque results pass through unchanged.
func Pages(results []engine.Result, table ClassTable) []any {
	out := make([]any, 0, len(results))
	for _, r := range results {
		out = append(out, Value(r, table))
	}
	return out
}

// Value converts a single result.
func Value(r engine.Result, table ClassTable) any {
	switch v := r.(type) {
	case engine.Detections:
		return map[string]any{"detections": Records(v, table)}
	case engine.Opaque:
		return v.Value
	}
	return nil
}

// AttachToPages sets "visualizations" on the first detection-bearing entry.
// Without one, a non-empty collection is appended as a standalone entry.
func AttachToPages(pages []any, vis []artifact.Image) []any {
	for i, p := range pages {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := m["detections"]; !ok {
			continue
		}
		m = maps.Clone(m)
		m["visualizations"] = nonNil(vis)
		pages[i] = m
		return pages
	}
	if len(vis) == 0 {
		return pages
	}
	return append(pages, map[string]any{"visualizations": vis})
}

// AttachToValue sets "visualizations" on a mapping result. A missing result
// becomes a mapping; any other value is wrapped under "result".
func AttachToValue(v any, vis []artifact.Image) any {
	switch m := v.(type) {
	case nil:
		return map[string]any{"visualizations": nonNil(vis)}
	case map[string]any:
		m = maps.Clone(m)
		m["visualizations"] = nonNil(vis)
		return m
	}
	return map[string]any{"result": v, "visualizations": nonNil(vis)}
}

func nonNil(vis []artifact.Image) []artifact.Image {
	if vis == nil {
		return []artifact.Image{}
	}
	return vis
}
