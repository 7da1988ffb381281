package testsupport

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// WriteImage encodes a w×h image filled with a horizontal gradient starting
// at base, choosing the encoder from the path's extension.
func WriteImage(t testing.TB, path string, w, h int, base color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			shift := uint8((x * 64) / max(w, 1))
			img.SetRGBA(x, y, color.RGBA{R: base.R + shift, G: base.G, B: base.B - shift/2, A: 0xff})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		err = png.Encode(f, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	case ".bmp":
		err = bmp.Encode(f, img)
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, nil)
	default:
		err = fmt.Errorf("no encoder for %q", ext)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// WriteCorruptImage writes bytes that no image decoder accepts.
func WriteCorruptImage(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("not an image at all"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// LabelColor maps a shelf-life midpoint onto a colour so that images from
// different folders produce separable embeddings.
func LabelColor(label float64) color.RGBA {
	v := uint8(min(max(label*20, 0), 180))
	return color.RGBA{R: 40 + v/2, G: 200 - v, B: 160, A: 0xff}
}

// Folder describes one labeled folder for WriteDataset.
type Folder struct {
	Name   string
	Label  float64
	Images int
	Ext    string
}

// WriteDataset lays out one subdirectory per folder under root, each holding
// Images small gradient images coloured by Label.
func WriteDataset(t testing.TB, root string, folders ...Folder) {
	t.Helper()
	for _, f := range folders {
		dir := filepath.Join(root, f.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		ext := f.Ext
		if ext == "" {
			ext = ".png"
		}
		base := LabelColor(f.Label)
		for i := range f.Images {
			c := base
			c.B -= uint8(i * 3)
			WriteImage(t, filepath.Join(dir, fmt.Sprintf("img_%03d%s", i, ext)), 20+i%3, 16, c)
		}
	}
}
