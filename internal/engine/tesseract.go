//go:build tesseract

package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"extractkit/internal/imageio"
	"extractkit/internal/raster"
	"extractkit/internal/taskspec"
)

// visualizationMax bounds the longer side of OCR overlay images.
const visualizationMax = 2000

// RegisterTesseract registers the in-process Tesseract OCR engine.
func RegisterTesseract(reg *Registry, r *raster.Rasterizer) {
	reg.Register(taskspec.EngineOCRTesseract, "tesseract", func(cfg map[string]any) (Engine, error) {
		lang, _ := cfg["lang"].(string)
		return &Tesseract{
			raster:        r,
			languages:     tesseractLanguages(lang),
			clientFactory: gosseract.NewClient,
		}, nil
	})
}

// Tesseract runs OCR locally through gosseract.
type Tesseract struct {
	raster        *raster.Rasterizer
	languages     []string
	clientFactory func() *gosseract.Client
}

func (e *Tesseract) Name() string { return taskspec.EngineOCRTesseract }

// Process recognises every page of inputPath. PDFs are rasterized first.
func (e *Tesseract) Process(ctx context.Context, inputPath, saveDir string, visualize bool) (Result, error) {
	pages, cleanup, err := e.pages(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))

	out := make([]any, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, boxes, err := e.recognize(page)
		if err != nil {
			return nil, fmt.Errorf("ocr page %d: %w", i+1, err)
		}
		rec["page"] = i + 1
		out = append(out, rec)

		if visualize {
			dst := filepath.Join(saveDir, fmt.Sprintf("%s_ocr_page_%d.png", base, i+1))
			if err := drawWords(page, dst, boxes); err != nil {
				return nil, fmt.Errorf("ocr page %d: visualize: %w", i+1, err)
			}
		}
	}
	return Opaque{Value: map[string]any{"pages": out}}, nil
}

func (e *Tesseract) pages(ctx context.Context, inputPath string) ([]string, func(), error) {
	if !strings.EqualFold(filepath.Ext(inputPath), ".pdf") {
		return []string{inputPath}, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "extractkit-ocr-")
	if err != nil {
		return nil, nil, fmt.Errorf("ocr: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }
	rendered, err := e.raster.Render(ctx, inputPath, dir, raster.DefaultDPI, "png")
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ocr: %w", err)
	}
	paths := make([]string, len(rendered))
	for i, p := range rendered {
		paths[i] = p.Path
	}
	return paths, cleanup, nil
}

func (e *Tesseract) recognize(path string) (map[string]any, []image.Rectangle, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImage(path); err != nil {
		return nil, nil, fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, nil, fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return nil, nil, fmt.Errorf("recognize text: %w", err)
	}

	bbs, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, nil, fmt.Errorf("word boxes: %w", err)
	}
	words := make([]any, 0, len(bbs))
	rects := make([]image.Rectangle, 0, len(bbs))
	for _, b := range bbs {
		words = append(words, map[string]any{
			"text":       b.Word,
			"box":        []float64{float64(b.Box.Min.X), float64(b.Box.Min.Y), float64(b.Box.Max.X), float64(b.Box.Max.Y)},
			"confidence": b.Confidence / 100.0,
		})
		rects = append(rects, b.Box)
	}
	return map[string]any{"text": strings.TrimSpace(text), "words": words}, rects, nil
}

func drawWords(src, dst string, boxes []image.Rectangle) error {
	img, err := imageio.Open(src)
	if err != nil {
		return err
	}
	marked := imageio.Outline(img, boxes, color.RGBA{R: 220, A: 255}, 2)
	return imageio.Save(dst, imageio.Fit(marked, visualizationMax), imageio.PNG)
}

// tesseractLanguages maps the OCR lang parameter to traineddata names.
func tesseractLanguages(lang string) []string {
	switch strings.ToLower(lang) {
	case "":
		return nil
	case "ch", "chinese":
		return []string{"chi_sim", "eng"}
	case "en", "english":
		return []string{"eng"}
	case "fr", "french":
		return []string{"fra"}
	case "german":
		return []string{"deu"}
	case "japan":
		return []string{"jpn"}
	case "korean":
		return []string{"kor"}
	}
	return []string{lang}
}
