// Package pipeline sequences task engines against one workspace.
//
// Three shapes are supported: a single task, the fixed four-stage composite
// (layout, OCR, formula detection, formula recognition) with an optional
// Markdown merge, and a caller-declared project. Every stage reads the
// original input; no stage receives another's output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"extractkit/internal/artifact"
	"extractkit/internal/engine"
	"extractkit/internal/logging"
	"extractkit/internal/normalize"
	"extractkit/internal/taskspec"
)

// MarkdownFile is the name the merge step writes under the output dir.
const MarkdownFile = "output.md"

// ErrNoMethod marks an engine that is neither a Detector nor a Processor.
var ErrNoMethod = errors.New("no executable method")

// ErrNotComposite is returned when a spec does not list the composite stages
// in their fixed order.
var ErrNotComposite = errors.New("spec is not the composite pipeline")

// Resolver yields engine instances for tasks.
type Resolver interface {
	Resolve(t taskspec.Task) (engine.Engine, error)
}

// Orchestrator runs specs. It holds no per-request state.
type Orchestrator struct {
	engines Resolver
	merger  Merger
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMerger replaces the default MarkdownMerger.
func WithMerger(m Merger) Option {
	return func(o *Orchestrator) { o.merger = m }
}

// New returns an Orchestrator resolving engines through r.
func New(r Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engines: r,
		merger:  MarkdownMerger{},
		logger:  logging.New("pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Invoke resolves and runs one task. Detectors are preferred over Processors;
// an engine implementing neither yields ErrNoMethod.
func (o *Orchestrator) Invoke(ctx context.Context, t taskspec.Task, p taskspec.Paths, visualize bool) (normalize.Raw, error) {
	eng, err := o.engines.Resolve(t)
	if err != nil {
		return normalize.Raw{}, err
	}
	start := time.Now()
	defer func() {
		o.logger.DebugContext(ctx, "task finished", "task", t.Name, "engine", t.Engine, "elapsed", time.Since(start))
	}()

	switch e := eng.(type) {
	case engine.Detector:
		res, err := e.PredictImages(ctx, p.Input, p.Output)
		if err != nil {
			return normalize.Raw{}, fmt.Errorf("%s: %w", t.Name, err)
		}
		return normalize.Raw{Paged: true, Pages: res}, nil
	case engine.Processor:
		res, err := e.Process(ctx, p.Input, p.Output, visualize)
		if err != nil {
			return normalize.Raw{}, fmt.Errorf("%s: %w", t.Name, err)
		}
		return normalize.Raw{Whole: res}, nil
	}
	return normalize.Raw{}, fmt.Errorf("task %s has %w", t.Name, ErrNoMethod)
}

// Single runs a one-task spec and returns its normalized payload.
func (o *Orchestrator) Single(ctx context.Context, spec taskspec.Spec) (any, error) {
	t, err := spec.Single()
	if err != nil {
		return nil, err
	}
	raw, err := o.Invoke(ctx, t, spec.Paths, spec.Visualize)
	if err != nil {
		return nil, err
	}
	return normalize.Normalize(ctx, t.Kind(), raw, spec.Output, spec.Visualize)
}

// Composite runs the four stages strictly in taskspec.CompositeOrder. The
// result has one entry per stage and, when merge is set, a "markdown" entry.
func (o *Orchestrator) Composite(ctx context.Context, spec taskspec.Spec, merge bool) (map[string]any, error) {
	if err := checkComposite(spec); err != nil {
		return nil, err
	}

	raws := make([]normalize.Raw, len(spec.Tasks))
	results := make(map[string]any, len(spec.Tasks)+1)
	for i, t := range spec.Tasks {
		raw, err := o.Invoke(ctx, t, spec.Paths, false)
		if err != nil {
			return nil, err
		}
		raws[i] = raw
		v, err := normalize.Normalize(ctx, t.Kind(), raw, spec.Output, false)
		if err != nil {
			return nil, err
		}
		results[t.Name] = v
	}

	if merge {
		in := MergeInput{
			Layout:             raws[0],
			OCR:                raws[1],
			FormulaDetection:   raws[2],
			FormulaRecognition: raws[3],
		}
		md, err := o.mergeMarkdown(ctx, in, filepath.Join(spec.Output, MarkdownFile))
		if err != nil {
			return nil, err
		}
		results["markdown"] = md
	}
	return results, nil
}

func checkComposite(spec taskspec.Spec) error {
	if len(spec.Tasks) != len(taskspec.CompositeOrder) {
		return fmt.Errorf("%w: tasks %v", ErrNotComposite, spec.Names())
	}
	for i, k := range taskspec.CompositeOrder {
		if spec.Tasks[i].Kind() != k {
			return fmt.Errorf("%w: stage %d is %s, want %s", ErrNotComposite, i+1, spec.Tasks[i].Kind(), k)
		}
	}
	return nil
}

// mergeMarkdown runs the merger and falls back to the written file when it
// returns no text.
func (o *Orchestrator) mergeMarkdown(ctx context.Context, in MergeInput, savePath string) (string, error) {
	md, err := o.merger.Merge(ctx, in, savePath)
	if err != nil {
		return "", fmt.Errorf("merge markdown: %w", err)
	}
	if md != "" {
		return md, nil
	}
	data, err := os.ReadFile(savePath)
	if err != nil {
		return "", fmt.Errorf("merge markdown: read %s: %w", filepath.Base(savePath), err)
	}
	return string(data), nil
}

// Project runs every declared task in order, then aggregates the output tree:
// "visualizations" holds every image and "text_files" every text file. A task
// whose engine has no executable method gets an {"error": ...} marker instead
// of failing the run.
func (o *Orchestrator) Project(ctx context.Context, spec taskspec.Spec) (map[string]any, error) {
	results := make(map[string]any, len(spec.Tasks)+2)
	for _, t := range spec.Tasks {
		raw, err := o.Invoke(ctx, t, spec.Paths, spec.Visualize)
		if errors.Is(err, ErrNoMethod) {
			o.logger.WarnContext(ctx, "task skipped", "task", t.Name, "engine", t.Engine)
			results[t.Name] = map[string]any{"error": fmt.Sprintf("task %s has no executable method", t.Name)}
			continue
		}
		if err != nil {
			return nil, err
		}
		v, err := normalize.Normalize(ctx, t.Kind(), raw, spec.Output, false)
		if err != nil {
			return nil, err
		}
		results[t.Name] = v
	}

	vis, err := artifact.Images(ctx, spec.Output)
	if err != nil {
		return nil, err
	}
	texts, err := artifact.Texts(ctx, spec.Output)
	if err != nil {
		return nil, err
	}
	results[taskspec.VisualizationsKey] = nonNilImages(vis)
	results[taskspec.TextFilesKey] = nonNilTexts(texts)
	return results, nil
}

func nonNilImages(v []artifact.Image) []artifact.Image {
	if v == nil {
		return []artifact.Image{}
	}
	return v
}

func nonNilTexts(v []artifact.Text) []artifact.Text {
	if v == nil {
		return []artifact.Text{}
	}
	return v
}
