package service

import (
	"context"
	"fmt"
	"time"

	"extractkit/internal/envelope"
	"extractkit/internal/markdown"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

func invalidParam(name string, v any, want string) error {
	return fmt.Errorf("%w: %s=%v, must be %s", ErrInvalidParam, name, v, want)
}

func checkDetection(d taskspec.Detection) error {
	if d.ImgSize <= 0 {
		return invalidParam("img_size", d.ImgSize, "positive")
	}
	if d.ConfThres < 0 || d.ConfThres > 1 {
		return invalidParam("conf_thres", d.ConfThres, "in [0,1]")
	}
	if d.IOUThres < 0 || d.IOUThres > 1 {
		return invalidParam("iou_thres", d.IOUThres, "in [0,1]")
	}
	return nil
}

func checkRecognition(r taskspec.FormulaRecognitionParams) error {
	if r.BeamSize <= 0 {
		return invalidParam("beam_size", r.BeamSize, "positive")
	}
	if r.MaxSeqLength <= 0 {
		return invalidParam("max_seq_length", r.MaxSeqLength, "positive")
	}
	return nil
}

// single runs a one-task spec built from the workspace paths.
func (s *Service) single(ctx context.Context, op operation, u workspace.Upload, done string, build func(taskspec.Paths) taskspec.Spec) (envelope.Envelope, error) {
	return s.inWorkspace(ctx, op, u, func(ctx context.Context, p taskspec.Paths) (envelope.Envelope, error) {
		results, err := s.pipeline.Single(ctx, build(p))
		if err != nil {
			return envelope.Envelope{}, err
		}
		return envelope.OK(done, results), nil
	})
}

// LayoutDetection runs the layout detector. Results hold one entry per page.
func (s *Service) LayoutDetection(ctx context.Context, u workspace.Upload, d taskspec.Detection) (envelope.Envelope, error) {
	if err := checkDetection(d); err != nil {
		return s.reject(ctx, opLayoutDetection, time.Now(), err)
	}
	return s.single(ctx, opLayoutDetection, u, "layout detection task complete", func(p taskspec.Paths) taskspec.Spec {
		return s.builder.LayoutDetection(p, d)
	})
}

// OCR runs the configured OCR engine.
func (s *Service) OCR(ctx context.Context, u workspace.Upload, o taskspec.OCRParams, visualize bool) (envelope.Envelope, error) {
	if o.Lang == "" {
		return s.reject(ctx, opOCR, time.Now(), invalidParam("lang", `""`, "non-empty"))
	}
	return s.single(ctx, opOCR, u, "OCR task complete", func(p taskspec.Paths) taskspec.Spec {
		return s.builder.OCR(p, o, visualize)
	})
}

// FormulaDetection runs the formula detector.
func (s *Service) FormulaDetection(ctx context.Context, u workspace.Upload, d taskspec.Detection) (envelope.Envelope, error) {
	if err := checkDetection(d); err != nil {
		return s.reject(ctx, opFormulaDetection, time.Now(), err)
	}
	return s.single(ctx, opFormulaDetection, u, "formula detection task complete", func(p taskspec.Paths) taskspec.Spec {
		return s.builder.FormulaDetection(p, d)
	})
}

// FormulaRecognition runs the formula recognizer.
func (s *Service) FormulaRecognition(ctx context.Context, u workspace.Upload, r taskspec.FormulaRecognitionParams, visualize bool) (envelope.Envelope, error) {
	if err := checkRecognition(r); err != nil {
		return s.reject(ctx, opFormulaRecognition, time.Now(), err)
	}
	return s.single(ctx, opFormulaRecognition, u, "formula recognition task complete", func(p taskspec.Paths) taskspec.Spec {
		return s.builder.FormulaRecognition(p, r, visualize)
	})
}

// TableParsing runs the table structure engine.
func (s *Service) TableParsing(ctx context.Context, u workspace.Upload, visualize bool) (envelope.Envelope, error) {
	return s.single(ctx, opTableParsing, u, "table parsing task complete", func(p taskspec.Paths) taskspec.Spec {
		return s.builder.TableParsing(p, visualize)
	})
}

// MarkdownOptions controls the composite operation.
type MarkdownOptions struct {
	// Merge assembles the stage results into one Markdown document.
	Merge bool
	// RenderHTML adds the merged document as HTML with MathML formulas.
	RenderHTML bool
}

// PDF2Markdown runs the four-stage composite pipeline.
func (s *Service) PDF2Markdown(ctx context.Context, u workspace.Upload, opts MarkdownOptions) (envelope.Envelope, error) {
	return s.inWorkspace(ctx, opPDF2Markdown, u, func(ctx context.Context, p taskspec.Paths) (envelope.Envelope, error) {
		results, err := s.pipeline.Composite(ctx, s.builder.PDF2Markdown(p), opts.Merge)
		if err != nil {
			return envelope.Envelope{}, err
		}
		if md, ok := results["markdown"].(string); ok && opts.RenderHTML {
			html, err := markdown.HTML(md)
			if err != nil {
				return envelope.Envelope{}, err
			}
			results["html"] = html
		}
		return envelope.OK("PDF to Markdown task complete", results), nil
	})
}

// RunProject runs a caller-declared project. Blank config runs the composite
// stages without merging. The config is validated before a workspace exists.
func (s *Service) RunProject(ctx context.Context, u workspace.Upload, config []byte) (envelope.Envelope, error) {
	spec, err := s.builder.Project(taskspec.Paths{}, config)
	if err != nil {
		return s.reject(ctx, opRunProject, time.Now(), err)
	}
	return s.inWorkspace(ctx, opRunProject, u, func(ctx context.Context, p taskspec.Paths) (envelope.Envelope, error) {
		spec.Paths = p
		results, err := s.pipeline.Project(ctx, spec)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return envelope.OK("project run complete", results), nil
	})
}
