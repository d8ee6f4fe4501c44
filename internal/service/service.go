// Package service is the operation boundary of extractkit. Every operation
// validates its input, owns one workspace for its lifetime, and turns engine
// and normalization errors into failure envelopes. Only input errors are
// returned as Go errors.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"extractkit/internal/envelope"
	"extractkit/internal/logging"
	"extractkit/internal/metrics"
	"extractkit/internal/pipeline"
	"extractkit/internal/raster"
	"extractkit/internal/store"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

// ErrInvalidParam is returned for a scalar parameter outside its range.
var ErrInvalidParam = errors.New("invalid parameter")

// IsInputError reports whether err is a validation failure the caller should
// see as a rejected request rather than a failure envelope.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidParam) ||
		errors.Is(err, workspace.ErrUnsupportedType) ||
		errors.Is(err, taskspec.ErrInvalidConfig)
}

// Rasterizer renders PDF pages to image files.
type Rasterizer interface {
	Render(ctx context.Context, pdfPath, outDir string, dpi int, ext string) ([]raster.Page, error)
}

// Recorder receives per-operation measurements.
type Recorder interface {
	ObserveOperation(operation, outcome string, d time.Duration)
	RecoveredPanic()
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) RecoveredPanic()                                {}

// Service runs operations. It keeps no per-request state; all of it lives in
// the request's workspace.
type Service struct {
	workspaces *workspace.Manager
	builder    taskspec.Builder
	pipeline   *pipeline.Orchestrator
	raster     Rasterizer
	store      store.Store
	recorder   Recorder
	root       string
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBuilder sets the task configuration builder (model paths, OCR engine).
func WithBuilder(b taskspec.Builder) Option {
	return func(s *Service) { s.builder = b }
}

// WithRasterizer replaces the pdftoppm rasterizer.
func WithRasterizer(r Rasterizer) Option {
	return func(s *Service) { s.raster = r }
}

// WithStore sets the index of persisted outputs.
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithRecorder reports operation metrics to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithRoot sets the directory persisted paths are reported relative to.
func WithRoot(dir string) Option {
	return func(s *Service) { s.root = dir }
}

// New returns a Service allocating workspaces from ws and running specs on p.
func New(ws *workspace.Manager, p *pipeline.Orchestrator, opts ...Option) *Service {
	s := &Service{
		workspaces: ws,
		pipeline:   p,
		raster:     raster.New(""),
		store:      store.NewMemStore(),
		recorder:   nopRecorder{},
		root:       ".",
		logger:     logging.New("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// operation names one entry point: Name labels logs and metrics, Label is
// used in failure messages.
type operation struct {
	Name  string
	Label string
}

var (
	opUpload             = operation{"upload", "file upload"}
	opLayoutDetection    = operation{"layout_detection", "layout detection"}
	opOCR                = operation{"ocr", "OCR"}
	opFormulaDetection   = operation{"formula_detection", "formula detection"}
	opFormulaRecognition = operation{"formula_recognition", "formula recognition"}
	opTableParsing       = operation{"table_parsing", "table parsing"}
	opPDF2Markdown       = operation{"pdf2markdown", "PDF to Markdown"}
	opRunProject         = operation{"run_project", "project run"}
	opPDFToImages        = operation{"pdf_to_images", "PDF to images"}
	opPDFToImagesSave    = operation{"pdf_to_images_save", "PDF to images"}
)

// execFunc runs the body of an operation against bound workspace paths.
type execFunc func(ctx context.Context, p taskspec.Paths) (envelope.Envelope, error)

// reject records an input error and returns it.
func (s *Service) reject(ctx context.Context, op operation, start time.Time, err error) (envelope.Envelope, error) {
	s.logger.InfoContext(ctx, "operation rejected", "operation", op.Name, "error", err)
	s.recorder.ObserveOperation(op.Name, metrics.OutcomeRejected, time.Since(start))
	return envelope.Envelope{}, err
}

// inWorkspace is the boundary shared by every workspace-backed operation:
// the extension gate precedes allocation, the workspace is released on every
// exit path, and any error or panic from exec becomes a failure envelope.
func (s *Service) inWorkspace(ctx context.Context, op operation, u workspace.Upload, exec execFunc) (envelope.Envelope, error) {
	start := time.Now()
	if err := workspace.CheckExtension(u.Filename); err != nil {
		return s.reject(ctx, op, start, err)
	}
	ws, err := s.workspaces.Acquire(u)
	if err != nil {
		return s.finish(ctx, op, "", start, envelope.Envelope{}, err), nil
	}
	defer s.workspaces.Release(ws)

	s.logger.InfoContext(ctx, "operation started", "operation", op.Name, "workspace", ws.ID, "file", u.Filename)
	env, err := s.guard(ctx, op, func(ctx context.Context) (envelope.Envelope, error) {
		return exec(ctx, taskspec.Paths{Input: ws.InputPath, Output: ws.OutputDir})
	})
	return s.finish(ctx, op, ws.ID, start, env, err), nil
}

// guard runs fn and converts a panic into an error.
func (s *Service) guard(ctx context.Context, op operation, fn func(context.Context) (envelope.Envelope, error)) (env envelope.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.recorder.RecoveredPanic()
			s.logger.ErrorContext(ctx, "panic in operation", "operation", op.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// finish maps err into a failure envelope, logs and records the outcome.
func (s *Service) finish(ctx context.Context, op operation, wsID string, start time.Time, env envelope.Envelope, err error) envelope.Envelope {
	elapsed := time.Since(start)
	if err != nil {
		s.logger.ErrorContext(ctx, "operation failed", "operation", op.Name, "workspace", wsID, "elapsed", elapsed, "error", err)
		s.recorder.ObserveOperation(op.Name, metrics.OutcomeFailure, elapsed)
		return envelope.TaskFailed(op.Label, err)
	}
	outcome := metrics.OutcomeSuccess
	if !env.Success {
		outcome = metrics.OutcomeFailure
	}
	s.logger.InfoContext(ctx, "operation finished", "operation", op.Name, "workspace", wsID, "elapsed", elapsed, "success", env.Success)
	s.recorder.ObserveOperation(op.Name, outcome, elapsed)
	return env
}
