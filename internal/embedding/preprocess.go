package embedding

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Preprocessor reproduces the evaluation transform of the backbone weights.
type Preprocessor struct {
	ResizeSize int
	CropSize   int
	Mean       [3]float32
	Std        [3]float32
}

// DefaultPreprocessor returns the ViT-B/16 IMAGENET1K_V1 transform.
func DefaultPreprocessor() Preprocessor {
	return Preprocessor{
		ResizeSize: 256,
		CropSize:   224,
		Mean:       [3]float32{0.485, 0.456, 0.406},
		Std:        [3]float32{0.229, 0.224, 0.225},
	}
}

// NewPreprocessor builds a Preprocessor from configured values.
func NewPreprocessor(resize, crop int, mean, std []float64) (Preprocessor, error) {
	if resize <= 0 || crop <= 0 || crop > resize {
		return Preprocessor{}, fmt.Errorf("preprocess: invalid resize %d / crop %d", resize, crop)
	}
	if len(mean) != 3 || len(std) != 3 {
		return Preprocessor{}, fmt.Errorf("preprocess: mean and std need three channels")
	}
	p := Preprocessor{ResizeSize: resize, CropSize: crop}
	for i := range 3 {
		if std[i] <= 0 {
			return Preprocessor{}, fmt.Errorf("preprocess: std[%d] must be positive", i)
		}
		p.Mean[i] = float32(mean[i])
		p.Std[i] = float32(std[i])
	}
	return p, nil
}

// TensorSize is the number of float32 values one preprocessed image occupies.
func (p Preprocessor) TensorSize() int { return 3 * p.CropSize * p.CropSize }

// resizedSize scales the shorter side to target and the longer side in
// proportion, truncating.
func resizedSize(w, h, target int) (int, int) {
	if w <= h {
		return target, int(float64(target) * float64(h) / float64(w))
	}
	return int(float64(target) * float64(w) / float64(h)), target
}

// cropOffset centres a crop, rounding half to even.
func cropOffset(size, crop int) int {
	return int(math.RoundToEven(float64(size-crop) / 2.0))
}

// Apply writes the CHW tensor for img into dst, which must hold TensorSize
// values.
func (p Preprocessor) Apply(img *image.RGBA, dst []float32) error {
	if len(dst) != p.TensorSize() {
		return fmt.Errorf("preprocess: destination holds %d values, need %d", len(dst), p.TensorSize())
	}
	b := img.Bounds()
	w, h := resizedSize(b.Dx(), b.Dy(), p.ResizeSize)
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(resized, resized.Bounds(), img, b, xdraw.Src, nil)

	top := cropOffset(h, p.CropSize)
	left := cropOffset(w, p.CropSize)
	plane := p.CropSize * p.CropSize
	for y := range p.CropSize {
		row := resized.PixOffset(left, top+y)
		for x := range p.CropSize {
			px := resized.Pix[row+4*x : row+4*x+3]
			idx := y*p.CropSize + x
			for c := range 3 {
				dst[c*plane+idx] = (float32(px[c])/255 - p.Mean[c]) / p.Std[c]
			}
		}
	}
	return nil
}

// Load decodes path and preprocesses it into dst.
func (p Preprocessor) Load(path string, dst []float32) error {
	img, err := DecodeFile(path)
	if err != nil {
		return err
	}
	return p.Apply(img, dst)
}
