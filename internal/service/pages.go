package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"extractkit/internal/artifact"
	"extractkit/internal/envelope"
	"extractkit/internal/metrics"
	"extractkit/internal/raster"
	"extractkit/internal/store"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

// SavedKind is the store kind and data dir area of persisted page images.
const SavedKind = "pdf_to_images"

// MaxDPI bounds the rasterization resolution.
const MaxDPI = 1200

// PageImages is the inline result of PDFToImages.
type PageImages struct {
	PageCount int              `json:"page_count"`
	Images    []artifact.Image `json:"images"`
}

// SavedPages is the result of PDFToImagesSave. Paths are relative to the
// service root.
type SavedPages struct {
	ID         string   `json:"id"`
	PageCount  int      `json:"page_count"`
	ImagePaths []string `json:"image_paths"`
	OutputDir  string   `json:"output_dir"`
}

// OutputExt normalizes a requested image format: png, jpg or jpeg are kept,
// anything else becomes png.
func OutputExt(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "png", "jpg", "jpeg":
		return f
	}
	return "png"
}

func checkDPI(dpi int) error {
	if dpi <= 0 || dpi > MaxDPI {
		return invalidParam("dpi", dpi, fmt.Sprintf("in [1,%d]", MaxDPI))
	}
	return nil
}

var pdfOnly = envelope.Fail("only PDF files are accepted")

// onlyPDF answers a non-PDF upload with a handled failure, before any
// workspace exists.
func (s *Service) onlyPDF(ctx context.Context, op operation, start time.Time, name string) envelope.Envelope {
	s.logger.InfoContext(ctx, "non-PDF upload refused", "operation", op.Name, "file", name)
	s.recorder.ObserveOperation(op.Name, metrics.OutcomeRejected, time.Since(start))
	return pdfOnly
}

func pageNames(pages []raster.Page, outDir string) ([]string, error) {
	names := make([]string, len(pages))
	for i, pg := range pages {
		rel, err := filepath.Rel(outDir, pg.Path)
		if err != nil {
			return nil, err
		}
		names[i] = filepath.ToSlash(rel)
	}
	return names, nil
}

func convertedMessage(n int) string {
	return fmt.Sprintf("PDF converted to %d images", n)
}

// PDFToImages rasterizes every page and returns the images inline, in page
// order.
func (s *Service) PDFToImages(ctx context.Context, u workspace.Upload, dpi int, format string) (envelope.Envelope, error) {
	start := time.Now()
	if !workspace.IsPDF(u.Filename) {
		return s.onlyPDF(ctx, opPDFToImages, start, u.Filename), nil
	}
	if err := checkDPI(dpi); err != nil {
		return s.reject(ctx, opPDFToImages, start, err)
	}
	ext := OutputExt(format)
	return s.inWorkspace(ctx, opPDFToImages, u, func(ctx context.Context, p taskspec.Paths) (envelope.Envelope, error) {
		pages, err := s.raster.Render(ctx, p.Input, p.Output, dpi, ext)
		if err != nil {
			return envelope.Envelope{}, err
		}
		names, err := pageNames(pages, p.Output)
		if err != nil {
			return envelope.Envelope{}, err
		}
		images, err := artifact.Encode(ctx, p.Output, names)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return envelope.OK(convertedMessage(len(pages)), PageImages{PageCount: len(pages), Images: images}), nil
	})
}

// PDFToImagesSave rasterizes into a persisted, id-addressed directory, indexes
// it in the store and returns relative paths instead of bytes. A failed run
// leaves nothing behind.
func (s *Service) PDFToImagesSave(ctx context.Context, u workspace.Upload, dpi int, format string) (envelope.Envelope, error) {
	op := opPDFToImagesSave
	start := time.Now()
	if !workspace.IsPDF(u.Filename) {
		return s.onlyPDF(ctx, op, start, u.Filename), nil
	}
	if err := checkDPI(dpi); err != nil {
		return s.reject(ctx, op, start, err)
	}
	ext := OutputExt(format)

	persisted, err := s.workspaces.Persist(u, SavedKind)
	if err != nil {
		return s.finish(ctx, op, "", start, envelope.Envelope{}, err), nil
	}
	s.logger.InfoContext(ctx, "operation started", "operation", op.Name, "id", persisted.ID, "file", u.Filename)
	env, err := s.guard(ctx, op, func(ctx context.Context) (envelope.Envelope, error) {
		pages, err := s.raster.Render(ctx, persisted.InputPath, persisted.OutputDir, dpi, ext)
		if err != nil {
			return envelope.Envelope{}, err
		}
		paths := make([]string, len(pages))
		for i, pg := range pages {
			paths[i] = s.relative(pg.Path)
		}
		out := &store.Output{
			ID:         persisted.ID,
			Kind:       SavedKind,
			SourceName: u.Filename,
			InputPath:  s.relative(persisted.InputPath),
			OutputDir:  s.relative(persisted.OutputDir),
			Files:      paths,
		}
		if err := s.store.SaveOutput(out); err != nil {
			return envelope.Envelope{}, err
		}
		return envelope.OK(convertedMessage(len(pages)), SavedPages{
			ID:         persisted.ID,
			PageCount:  len(pages),
			ImagePaths: paths,
			OutputDir:  out.OutputDir,
		}), nil
	})
	if err != nil {
		s.workspaces.Discard(persisted)
	}
	return s.finish(ctx, op, persisted.ID, start, env, err), nil
}

// relative reports path relative to the service root, slash-separated. Paths
// outside the root are returned unchanged.
func (s *Service) relative(path string) string {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return filepath.ToSlash(path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Upload validates and stages the file, then echoes it back Base64-encoded.
// Staging failures are returned as errors, not envelopes.
func (s *Service) Upload(ctx context.Context, u workspace.Upload) (envelope.Upload, error) {
	start := time.Now()
	if err := workspace.CheckExtension(u.Filename); err != nil {
		s.reject(ctx, opUpload, start, err)
		return envelope.Upload{}, err
	}
	ws, err := s.workspaces.Acquire(u)
	if err != nil {
		s.recorder.ObserveOperation(opUpload.Name, metrics.OutcomeFailure, time.Since(start))
		return envelope.Upload{}, fmt.Errorf("%s failed: %w", opUpload.Label, err)
	}
	defer s.workspaces.Release(ws)

	data, err := os.ReadFile(ws.InputPath)
	if err != nil {
		s.recorder.ObserveOperation(opUpload.Name, metrics.OutcomeFailure, time.Since(start))
		return envelope.Upload{}, fmt.Errorf("%s failed: %w", opUpload.Label, err)
	}
	s.logger.InfoContext(ctx, "file uploaded", "workspace", ws.ID, "file", u.Filename, "bytes", len(data))
	s.recorder.ObserveOperation(opUpload.Name, metrics.OutcomeSuccess, time.Since(start))
	return envelope.Upload{
		Success:  true,
		Message:  "file uploaded",
		FileData: base64.StdEncoding.EncodeToString(data),
		FileName: u.Filename,
		FileType: envelope.FileType(u.Filename),
	}, nil
}

// Output returns one persisted output record.
func (s *Service) Output(id string) (*store.Output, error) {
	return s.store.GetOutput(id)
}

// Outputs lists persisted outputs, newest first.
func (s *Service) Outputs() ([]*store.Output, error) {
	out, err := s.store.ListOutputs()
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*store.Output{}
	}
	return out, nil
}
