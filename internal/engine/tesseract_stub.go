//go:build !tesseract

package engine

import (
	"extractkit/internal/raster"
	"extractkit/internal/taskspec"
)

// RegisterTesseract records the Tesseract engine as unavailable; the binary
// was built without the tesseract tag.
func RegisterTesseract(reg *Registry, _ *raster.Rasterizer) {
	reg.RegisterUnavailable(taskspec.EngineOCRTesseract, "tesseract", "built without -tags tesseract")
}
