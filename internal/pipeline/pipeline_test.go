package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"extractkit/internal/artifact"
	"extractkit/internal/engine"
	"extractkit/internal/normalize"
	"extractkit/internal/taskspec"
)

// recorder logs engine invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

type fakeDetector struct {
	name string
	rec  *recorder
	res  []engine.Result
	err  error
	// vis, when set, is written into the output dir.
	vis string
}

func (f *fakeDetector) Name() string { return f.name }
func (f *fakeDetector) PredictImages(_ context.Context, input, outDir string) ([]engine.Result, error) {
	f.rec.record(f.name)
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("input not readable: %w", err)
	}
	if f.vis != "" {
		if err := os.WriteFile(filepath.Join(outDir, f.vis), []byte("img"), 0o644); err != nil {
			return nil, err
		}
	}
	return f.res, f.err
}

type fakeProcessor struct {
	name string
	rec  *recorder
	res  engine.Result
	// text, when set, is written into the save dir as <name>.txt.
	text string
}

func (f *fakeProcessor) Name() string { return f.name }
func (f *fakeProcessor) Process(_ context.Context, input, saveDir string, _ bool) (engine.Result, error) {
	f.rec.record(f.name)
	if f.text != "" {
		if err := os.WriteFile(filepath.Join(saveDir, f.name+".txt"), []byte(f.text), 0o644); err != nil {
			return nil, err
		}
	}
	return f.res, nil
}

// inert has neither execution method.
type inert struct{}

func (inert) Name() string { return "inert" }

type fakeResolver map[string]engine.Engine

func (r fakeResolver) Resolve(t taskspec.Task) (engine.Engine, error) {
	e, ok := r[t.Engine]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", t.Name, engine.ErrUnknownEngine)
	}
	return e, nil
}

func workspace(t *testing.T) taskspec.Paths {
	t.Helper()
	root := t.TempDir()
	p := taskspec.Paths{Input: filepath.Join(root, "doc.pdf"), Output: filepath.Join(root, "output")}
	if err := os.WriteFile(p.Input, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(p.Output, 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func compositeEngines(rec *recorder) fakeResolver {
	return fakeResolver{
		taskspec.EngineLayoutYOLO: &fakeDetector{name: "layout", rec: rec,
			res: []engine.Result{engine.Detections{
				Boxes: [][]float64{{0, 0, 100, 20}}, Classes: []float64{0}, Scores: []float64{0.9},
			}}},
		taskspec.EngineOCRPaddle: &fakeProcessor{name: "ocr", rec: rec,
			res: engine.Opaque{Value: map[string]any{"lines": []any{
				map[string]any{"text": "Heading", "box": []any{10.0, 5.0, 60.0, 15.0}},
			}}}},
		taskspec.EngineFormulaDetectionYOLO: &fakeDetector{name: "formula_detection", rec: rec,
			res: []engine.Result{engine.Detections{}}},
		taskspec.EngineFormulaRecognitionNougat: &fakeProcessor{name: "formula_recognition", rec: rec,
			res: engine.Opaque{Value: map[string]any{"formulas": []any{}}}},
	}
}

func TestComposite_FixedOrder(t *testing.T) {
	for i := 0; i < 5; i++ {
		rec := &recorder{}
		p := workspace(t)
		o := New(compositeEngines(rec))

		res, err := o.Composite(context.Background(), taskspec.Builder{}.PDF2Markdown(p), true)
		if err != nil {
			t.Fatalf("Composite: %v", err)
		}
		want := []string{"layout", "ocr", "formula_detection", "formula_recognition"}
		if diff := cmp.Diff(want, rec.calls); diff != "" {
			t.Fatalf("invocation order (-want +got):\n%s", diff)
		}
		for _, k := range []string{"layout_detection", "ocr", "formula_detection", "formula_recognition", "markdown"} {
			if _, ok := res[k]; !ok {
				t.Errorf("result lacks %q", k)
			}
		}
		if res["markdown"] != "# Heading\n" {
			t.Errorf("markdown = %q", res["markdown"])
		}
		if _, err := os.Stat(filepath.Join(p.Output, MarkdownFile)); err != nil {
			t.Errorf("output.md not written: %v", err)
		}
	}
}

func TestComposite_WithoutMerge(t *testing.T) {
	rec := &recorder{}
	res, err := New(compositeEngines(rec)).Composite(context.Background(), taskspec.Builder{}.PDF2Markdown(workspace(t)), false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res["markdown"]; ok {
		t.Error("markdown present without merge")
	}
}

func TestComposite_RejectsShortSpecNamingTasks(t *testing.T) {
	rec := &recorder{}
	spec := taskspec.Builder{}.PDF2Markdown(workspace(t))
	spec.Tasks = spec.Tasks[:2]

	_, err := New(compositeEngines(rec)).Composite(context.Background(), spec, true)
	if !errors.Is(err, ErrNotComposite) {
		t.Fatalf("err = %v, want ErrNotComposite", err)
	}
	if !strings.Contains(err.Error(), "[layout_detection ocr]") {
		t.Errorf("err = %v, want task names", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("engines ran: %v", rec.calls)
	}
}

func TestComposite_RejectsReorderedSpec(t *testing.T) {
	rec := &recorder{}
	spec := taskspec.Builder{}.PDF2Markdown(workspace(t))
	spec.Tasks[0], spec.Tasks[1] = spec.Tasks[1], spec.Tasks[0]

	_, err := New(compositeEngines(rec)).Composite(context.Background(), spec, true)
	if !errors.Is(err, ErrNotComposite) {
		t.Fatalf("err = %v, want ErrNotComposite", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("engines ran: %v", rec.calls)
	}
}

func TestComposite_StopsAtFailingStage(t *testing.T) {
	rec := &recorder{}
	engines := compositeEngines(rec)
	engines[taskspec.EngineOCRPaddle] = &fakeDetector{name: "ocr", rec: rec, err: errors.New("gpu out of memory")}

	_, err := New(engines).Composite(context.Background(), taskspec.Builder{}.PDF2Markdown(workspace(t)), true)
	if err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff([]string{"layout", "ocr"}, rec.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
}

type emptyMerger struct{}

func (emptyMerger) Merge(_ context.Context, _ MergeInput, savePath string) (string, error) {
	return "", os.WriteFile(savePath, []byte("from disk"), 0o644)
}

func TestComposite_RereadsMergedFile(t *testing.T) {
	o := New(compositeEngines(&recorder{}), WithMerger(emptyMerger{}))
	res, err := o.Composite(context.Background(), taskspec.Builder{}.PDF2Markdown(workspace(t)), true)
	if err != nil {
		t.Fatal(err)
	}
	if res["markdown"] != "from disk" {
		t.Errorf("markdown = %q", res["markdown"])
	}
}

func TestSingle_DetectionWithVisualization(t *testing.T) {
	rec := &recorder{}
	p := workspace(t)
	engines := fakeResolver{taskspec.EngineLayoutYOLO: &fakeDetector{
		name: "layout", rec: rec, vis: "page_1.png",
		res: []engine.Result{engine.Detections{
			Boxes: [][]float64{{1, 2, 3, 4}}, Classes: []float64{3}, Scores: []float64{0.5},
		}},
	}}
	d := taskspec.DefaultDetection()
	d.Visualize = true

	got, err := New(engines).Single(context.Background(), taskspec.Builder{}.LayoutDetection(p, d))
	if err != nil {
		t.Fatalf("Single: %v", err)
	}
	pages := got.([]any)
	first := pages[0].(map[string]any)
	want := []normalize.Record{{Box: [4]float64{1, 2, 3, 4}, Class: 3, ClassName: "figure", Score: 0.5}}
	if diff := cmp.Diff(want, first["detections"]); diff != "" {
		t.Errorf("detections (-want +got):\n%s", diff)
	}
	if vis := first["visualizations"].([]artifact.Image); len(vis) != 1 {
		t.Errorf("visualizations = %v", vis)
	}
}

func TestProject_MarkersAndAggregates(t *testing.T) {
	rec := &recorder{}
	p := workspace(t)
	engines := fakeResolver{
		"detector": &fakeDetector{name: "det", rec: rec, vis: "det.png", res: []engine.Result{engine.Opaque{Value: map[string]any{"k": "v"}}}},
		"proc":     &fakeProcessor{name: "proc", rec: rec, text: "recognized", res: engine.Opaque{Value: "ok"}},
		"nothing":  inert{},
	}
	doc := `
tasks:
  second:
    model: proc
  broken:
    model: nothing
  first:
    model: detector
`
	spec, err := taskspec.Parse([]byte(doc), p)
	if err != nil {
		t.Fatal(err)
	}

	res, err := New(engines).Project(context.Background(), spec)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if diff := cmp.Diff([]string{"proc", "det"}, rec.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	wantMarker := map[string]any{"error": "task broken has no executable method"}
	if diff := cmp.Diff(any(wantMarker), res["broken"]); diff != "" {
		t.Errorf("marker (-want +got):\n%s", diff)
	}
	if res["second"] != "ok" {
		t.Errorf("second = %v", res["second"])
	}
	vis := res["visualizations"].([]artifact.Image)
	if len(vis) != 1 || vis[0].Filename != "det.png" {
		t.Errorf("visualizations = %+v", vis)
	}
	texts := res["text_files"].([]artifact.Text)
	if diff := cmp.Diff([]artifact.Text{{Filename: "proc.txt", Content: "recognized"}}, texts); diff != "" {
		t.Errorf("text_files (-want +got):\n%s", diff)
	}
}

func TestProject_UnknownEngineFails(t *testing.T) {
	spec, _ := taskspec.Parse([]byte("tasks:\n  x:\n    model: missing\n"), workspace(t))
	_, err := New(fakeResolver{}).Project(context.Background(), spec)
	if !errors.Is(err, engine.ErrUnknownEngine) {
		t.Fatalf("err = %v", err)
	}
}

func TestProject_EmptyAggregates(t *testing.T) {
	spec, _ := taskspec.Parse([]byte("tasks:\n  x:\n    model: proc\n"), workspace(t))
	res, err := New(fakeResolver{"proc": &fakeProcessor{name: "proc", rec: &recorder{}}}).Project(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	if v := res["visualizations"].([]artifact.Image); v == nil || len(v) != 0 {
		t.Errorf("visualizations = %#v, want empty non-nil", v)
	}
	if v := res["text_files"].([]artifact.Text); v == nil || len(v) != 0 {
		t.Errorf("text_files = %#v, want empty non-nil", v)
	}
}
