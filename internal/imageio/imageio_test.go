package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"png": PNG, "PNG": PNG, "jpg": JPEG, "JPEG": JPEG, "gif": PNG, "": PNG,
	}
	for in, want := range cases {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
	if JPEG.Ext() != "jpg" || PNG.Ext() != "png" {
		t.Error("unexpected extensions")
	}
}

func TestTranscodePNG_FromTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.tiff")
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, solid(8, 4, color.White), nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if !IsTIFF(path) {
		t.Fatal("IsTIFF = false")
	}

	data, err := TranscodePNG(path)
	if err != nil {
		t.Fatalf("TranscodePNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not png: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestFit(t *testing.T) {
	wide := solid(400, 100, color.Black)
	got := Fit(wide, 200).Bounds()
	if got.Dx() != 200 || got.Dy() != 50 {
		t.Errorf("Fit wide = %v", got)
	}
	small := solid(10, 10, color.Black)
	if Fit(small, 200) != image.Image(small) {
		t.Error("small image should be returned unchanged")
	}
}

func TestOutline(t *testing.T) {
	img := solid(20, 20, color.White)
	red := color.RGBA{R: 255, A: 255}
	out := Outline(img, []image.Rectangle{image.Rect(5, 5, 15, 15)}, red, 1)

	if got := out.RGBAAt(5, 10); got != red {
		t.Errorf("edge pixel = %v, want red", got)
	}
	if got := out.RGBAAt(10, 10); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("interior pixel = %v, want white", got)
	}
	if got := img.RGBAAt(5, 10); got == red {
		t.Error("source image was modified")
	}
}
