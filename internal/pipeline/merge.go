package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"extractkit/internal/engine"
	"extractkit/internal/normalize"
)

// MergeInput carries the raw results of the four composite stages.
type MergeInput struct {
	Layout             normalize.Raw
	OCR                normalize.Raw
	FormulaDetection   normalize.Raw
	FormulaRecognition normalize.Raw
}

// Merger assembles one text document from the composite stages. It writes
// the document to savePath and returns it; an empty return makes the caller
// read savePath instead.
type Merger interface {
	Merge(ctx context.Context, in MergeInput, savePath string) (string, error)
}

// MarkdownMerger correlates the stages by page and region overlap.
//
// Layout regions give reading order and block type. OCR spans and formulas
// are placed into the region that contains the centre of their box; text
// outside every region is appended after the page's regions. Recognized
// formulas without a box take the boxes of detected formulas on the same page
// in detection order.
type MarkdownMerger struct{}

type box [4]float64

func (b box) cx() float64 { return (b[0] + b[2]) / 2 }
func (b box) cy() float64 { return (b[1] + b[3]) / 2 }

func (b box) contains(x, y float64) bool {
	return x >= b[0] && x <= b[2] && y >= b[1] && y <= b[3]
}

type region struct {
	box   box
	class string
	items []item
}

type item struct {
	box     box
	hasBox  bool
	text    string
	formula bool
	display bool
}

type page struct {
	regions []*region
	loose   []item
}

// Merge writes savePath and returns the Markdown text.
func (MarkdownMerger) Merge(_ context.Context, in MergeInput, savePath string) (string, error) {
	pages := map[int]*page{}
	get := func(n int) *page {
		if pages[n] == nil {
			pages[n] = &page{}
		}
		return pages[n]
	}

	for n, res := range pagesOf(in.Layout) {
		d, ok := res.(engine.Detections)
		if !ok {
			continue
		}
		p := get(n)
		for _, r := range normalize.Records(d, normalize.LayoutClasses) {
			if r.ClassName == "abandon" {
				continue
			}
			p.regions = append(p.regions, &region{box: box(r.Box), class: r.ClassName})
		}
	}

	for n, res := range pagesOf(in.OCR) {
		for _, it := range collect(res, n) {
			get(it.page).place(it.item)
		}
	}

	detected := map[int][]normalize.Record{}
	for n, res := range pagesOf(in.FormulaDetection) {
		if d, ok := res.(engine.Detections); ok {
			detected[n] = normalize.Records(d, normalize.FormulaClasses)
		}
	}
	used := map[int]int{}
	for n, res := range pagesOf(in.FormulaRecognition) {
		for _, it := range collect(res, n) {
			it.formula = true
			it.display = true
			if !it.hasBox {
				if i := used[it.page]; i < len(detected[it.page]) {
					used[it.page]++
					it.box, it.hasBox = box(detected[it.page][i].Box), true
				}
			}
			if it.hasBox {
				it.display = !isInline(detected[it.page], it.box)
			}
			get(it.page).place(it.item)
		}
	}

	nums := make([]int, 0, len(pages))
	for n := range pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var blocks []string
	for _, n := range nums {
		blocks = append(blocks, pages[n].render()...)
	}
	md := strings.Join(blocks, "\n\n")
	if md != "" {
		md += "\n"
	}

	if err := os.WriteFile(savePath, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", savePath, err)
	}
	return md, nil
}

// pagesOf numbers results from 1. A single result is page 1.
func pagesOf(raw normalize.Raw) map[int]engine.Result {
	out := map[int]engine.Result{}
	if raw.Paged {
		for i, r := range raw.Pages {
			out[i+1] = r
		}
	} else if raw.Whole != nil {
		out[1] = raw.Whole
	}
	return out
}

func isInline(dets []normalize.Record, b box) bool {
	for _, d := range dets {
		if box(d.Box).contains(b.cx(), b.cy()) {
			return d.ClassName == "inline"
		}
	}
	return false
}

func (p *page) place(it item) {
	if it.hasBox {
		for _, r := range p.regions {
			if r.box.contains(it.box.cx(), it.box.cy()) {
				r.items = append(r.items, it)
				return
			}
		}
	}
	p.loose = append(p.loose, it)
}

func readingOrder(items []item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.hasBox || !b.hasBox {
			return a.hasBox && !b.hasBox
		}
		if a.box[1] != b.box[1] {
			return a.box[1] < b.box[1]
		}
		return a.box[0] < b.box[0]
	})
}

func (p *page) render() []string {
	sort.SliceStable(p.regions, func(i, j int) bool {
		a, b := p.regions[i].box, p.regions[j].box
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[0] < b[0]
	})
	var out []string
	for _, r := range p.regions {
		if s := r.render(); s != "" {
			out = append(out, s)
		}
	}
	readingOrder(p.loose)
	for _, it := range p.loose {
		if s := it.render(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *region) render() string {
	readingOrder(r.items)
	switch r.class {
	case "figure":
		return ""
	case "isolate_formula":
		var parts []string
		for _, it := range r.items {
			if it.formula {
				parts = append(parts, displayMath(it.text))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
	}

	var parts []string
	for _, it := range r.items {
		switch {
		case it.formula && it.display:
			parts = append(parts, "\n\n"+displayMath(it.text)+"\n\n")
		case it.formula:
			parts = append(parts, "$"+it.text+"$")
		default:
			parts = append(parts, it.text)
		}
	}
	body := strings.TrimSpace(strings.Join(parts, " "))
	if body == "" {
		return ""
	}
	switch r.class {
	case "title":
		return "# " + body
	case "figure_caption", "table_caption", "table_footnote", "formula_caption":
		return "*" + body + "*"
	}
	return body
}

func (it item) render() string {
	if it.formula {
		if it.display {
			return displayMath(it.text)
		}
		return "$" + it.text + "$"
	}
	return strings.TrimSpace(it.text)
}

func displayMath(latex string) string {
	return "$$\n" + strings.TrimSpace(latex) + "\n$$"
}

type pagedItem struct {
	item
	page int
}

// collect pulls text spans and formulas out of an opaque or detection result.
// Recognized shapes:
//
//	{"pages": [...]}                      page list, "page" keys optional
//	{"page": n, "lines"|"words"|"spans"|"formulas"|"results": [...]}
//	{"text": "..." | [...], "box": [x1, y1, x2, y2]}
//	{"latex": "...", "box": ...}
//	[[[x, y] x4], ["text", score]]        PaddleOCR line
//
// Anything else is ignored.
func collect(res engine.Result, pageNum int) []pagedItem {
	o, ok := res.(engine.Opaque)
	if !ok {
		return nil
	}
	var out []pagedItem
	walk(o.Value, pageNum, &out)
	return out
}

var containerKeys = []string{"pages", "lines", "words", "spans", "formulas", "results"}

func walk(v any, pageNum int, out *[]pagedItem) {
	switch x := v.(type) {
	case map[string]any:
		if n, ok := number(x["page"]); ok && n >= 1 {
			pageNum = int(n)
		}
		b, hasBox := toBox(x["box"])
		if latex, ok := x["latex"].(string); ok {
			*out = append(*out, pagedItem{item{box: b, hasBox: hasBox, text: latex, formula: true}, pageNum})
			return
		}
		descended := false
		for _, k := range containerKeys {
			if list, ok := x[k].([]any); ok {
				descended = true
				for i, e := range list {
					next := pageNum
					if k == "pages" {
						next = i + 1
					}
					walk(e, next, out)
				}
			}
		}
		if descended {
			return
		}
		switch s := x["text"].(type) {
		case string:
			*out = append(*out, pagedItem{item{box: b, hasBox: hasBox, text: s}, pageNum})
		case []any:
			for _, e := range s {
				walk(e, pageNum, out)
			}
		}
	case []any:
		if it, ok := paddleLine(x); ok {
			*out = append(*out, pagedItem{it, pageNum})
			return
		}
		for _, e := range x {
			walk(e, pageNum, out)
		}
	case string:
		if strings.TrimSpace(x) != "" {
			*out = append(*out, pagedItem{item{text: x}, pageNum})
		}
	}
}

func paddleLine(x []any) (item, bool) {
	if len(x) != 2 {
		return item{}, false
	}
	b, ok := toBox(x[0])
	if !ok {
		return item{}, false
	}
	rec, ok := x[1].([]any)
	if !ok || len(rec) == 0 {
		return item{}, false
	}
	s, ok := rec[0].(string)
	if !ok {
		return item{}, false
	}
	return item{box: b, hasBox: true, text: s}, true
}

// toBox accepts [x1, y1, x2, y2] or a list of [x, y] points.
func toBox(v any) (box, bool) {
	switch x := v.(type) {
	case []float64:
		if len(x) == 4 {
			return box{x[0], x[1], x[2], x[3]}, true
		}
	case []any:
		if len(x) == 4 {
			var b box
			flat := true
			for i, e := range x {
				n, ok := number(e)
				if !ok {
					flat = false
					break
				}
				b[i] = n
			}
			if flat {
				return b, true
			}
		}
		return pointsBox(x)
	}
	return box{}, false
}

func pointsBox(pts []any) (box, bool) {
	if len(pts) == 0 {
		return box{}, false
	}
	b := box{1e18, 1e18, -1e18, -1e18}
	for _, p := range pts {
		xy, ok := p.([]any)
		if !ok || len(xy) != 2 {
			return box{}, false
		}
		x, okx := number(xy[0])
		y, oky := number(xy[1])
		if !okx || !oky {
			return box{}, false
		}
		b[0], b[1] = min(b[0], x), min(b[1], y)
		b[2], b[3] = max(b[2], x), max(b[3], y)
	}
	return b, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
