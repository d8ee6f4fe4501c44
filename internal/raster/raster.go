// Package raster renders PDF pages to image files with poppler's pdftoppm.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"extractkit/internal/imageio"
	"extractkit/internal/logging"
)

// DefaultDPI is the resolution used when callers pass zero.
const DefaultDPI = 200

// ErrNoPages is returned when pdftoppm succeeds but writes no page.
var ErrNoPages = errors.New("no pages rendered")

// Rasterizer wraps the pdftoppm binary.
type Rasterizer struct {
	bin    string
	logger *slog.Logger
}

// New returns a Rasterizer invoking bin; empty means "pdftoppm" on PATH.
func New(bin string) *Rasterizer {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &Rasterizer{bin: bin, logger: logging.New("raster")}
}

// Check reports whether the binary can be found.
func (r *Rasterizer) Check() error {
	if _, err := exec.LookPath(r.bin); err != nil {
		return fmt.Errorf("pdftoppm not available: %w", err)
	}
	return nil
}

// Page is one rendered page file.
type Page struct {
	Number int
	Path   string
}

var rawPage = regexp.MustCompile(`^raw-(\d+)\.(png|jpg)$`)

// Render writes every page of pdfPath into outDir as page_<n>.<ext>, n from 1.
// ext is the caller's extension spelling (png, jpg or jpeg); the encoding
// follows imageio.ParseFormat(ext).
func (r *Rasterizer) Render(ctx context.Context, pdfPath, outDir string, dpi int, ext string) ([]Page, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	format := imageio.ParseFormat(ext)
	ext = strings.ToLower(ext)
	if ext != "jpg" && ext != "jpeg" {
		ext = format.Ext()
	}

	staging, err := os.MkdirTemp(outDir, ".raster-")
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", filepath.Base(pdfPath), err)
	}
	defer os.RemoveAll(staging)

	flag := "-png"
	if format == imageio.JPEG {
		flag = "-jpeg"
	}
	args := []string{"-r", strconv.Itoa(dpi), flag, pdfPath, filepath.Join(staging, "raw")}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Stderr = &stderr

	r.logger.DebugContext(ctx, "pdftoppm", "input", filepath.Base(pdfPath), "dpi", dpi, "format", format)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("render %s: %w", filepath.Base(pdfPath), err)
		}
		return nil, fmt.Errorf("render %s: %w: %s", filepath.Base(pdfPath), err, msg)
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", filepath.Base(pdfPath), err)
	}
	var pages []Page
	for _, e := range entries {
		m := rawPage.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		dst := filepath.Join(outDir, fmt.Sprintf("page_%d.%s", n, ext))
		if err := os.Rename(filepath.Join(staging, e.Name()), dst); err != nil {
			return nil, fmt.Errorf("render %s: %w", filepath.Base(pdfPath), err)
		}
		pages = append(pages, Page{Number: n, Path: dst})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("render %s: %w", filepath.Base(pdfPath), ErrNoPages)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}
