package embedding_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"shelflife/internal/config"
	"shelflife/internal/embedding"
	"shelflife/internal/services"
	"shelflife/internal/testsupport"
)

func smallPreprocessor(t *testing.T) embedding.Preprocessor {
	t.Helper()
	pre, err := embedding.NewPreprocessor(16, 12, []float64{0.485, 0.456, 0.406}, []float64{0.229, 0.224, 0.225})
	if err != nil {
		t.Fatalf("NewPreprocessor: %v", err)
	}
	return pre
}

func writeImages(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "img_"+string(rune('a'+i))+".png")
		testsupport.WriteImage(t, paths[i], 18+i, 14+2*i, testsupport.LabelColor(float64(i)))
	}
	return paths
}

func TestDecodeFileSupportsFormats(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"} {
		path := filepath.Join(dir, "image"+ext)
		testsupport.WriteImage(t, path, 9, 7, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		img, err := embedding.DecodeFile(path)
		if err != nil {
			t.Fatalf("DecodeFile(%s): %v", ext, err)
		}
		if img.Bounds() != image.Rect(0, 0, 9, 7) {
			t.Fatalf("%s: unexpected bounds %v", ext, img.Bounds())
		}
	}
}

func TestDecodeFileReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	testsupport.WriteCorruptImage(t, path)

	_, err := embedding.DecodeFile(path)
	var decodeErr *embedding.DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Path != path {
		t.Fatalf("expected DecodeError for %s, got %v", path, err)
	}
	if !errors.Is(err, services.ErrImageDecode) {
		t.Fatal("expected error to match services.ErrImageDecode")
	}
	if _, err := embedding.DecodeFile(filepath.Join(t.TempDir(), "missing.png")); !errors.Is(err, services.ErrImageDecode) {
		t.Fatalf("expected missing file to be a decode error, got %v", err)
	}
}

func TestApplyNormalizesSolidColour(t *testing.T) {
	pre := smallPreprocessor(t)
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 128, 255
	}
	dst := make([]float32, pre.TensorSize())
	if err := pre.Apply(img, dst); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	plane := 12 * 12
	want := []float64{
		(1 - 0.485) / 0.229,
		(0 - 0.456) / 0.224,
		(128.0/255 - 0.406) / 0.225,
	}
	for c := range 3 {
		for _, v := range dst[c*plane : (c+1)*plane] {
			if math.Abs(float64(v)-want[c]) > 2.0/255/0.224 {
				t.Fatalf("channel %d: got %v want %v", c, v, want[c])
			}
		}
	}
	if err := pre.Apply(img, make([]float32, 3)); err == nil {
		t.Fatal("expected error for undersized destination")
	}
}

func TestNewPreprocessorValidates(t *testing.T) {
	if _, err := embedding.NewPreprocessor(16, 32, []float64{0, 0, 0}, []float64{1, 1, 1}); err == nil {
		t.Fatal("expected error when crop exceeds resize")
	}
	if _, err := embedding.NewPreprocessor(16, 12, []float64{0, 0}, []float64{1, 1, 1}); err == nil {
		t.Fatal("expected error for two-channel mean")
	}
	if _, err := embedding.NewPreprocessor(16, 12, []float64{0, 0, 0}, []float64{1, 0, 1}); err == nil {
		t.Fatal("expected error for zero std")
	}
}

func TestExtractIsIndependentOfBatchSize(t *testing.T) {
	paths := writeImages(t, t.TempDir(), 7)

	var reference [][]float64
	for _, batchSize := range []int{1, 3, 32} {
		backbone := testsupport.NewFakeBackbone(6)
		ex, err := embedding.NewExtractor(backbone, embedding.Options{BatchSize: batchSize, Preprocessor: smallPreprocessor(t)})
		if err != nil {
			t.Fatalf("NewExtractor: %v", err)
		}
		res, err := ex.Extract(context.Background(), paths)
		if err != nil {
			t.Fatalf("Extract(batch=%d): %v", batchSize, err)
		}
		if len(res.Vectors) != len(paths) || len(res.Failures) != 0 {
			t.Fatalf("batch=%d: unexpected result %+v", batchSize, res)
		}
		if ex.Dimensions() != 6 {
			t.Fatalf("expected 6 dimensions, got %d", ex.Dimensions())
		}
		if reference == nil {
			reference = res.Vectors
			continue
		}
		for i := range reference {
			for d := range reference[i] {
				if reference[i][d] != res.Vectors[i][d] {
					t.Fatalf("batch=%d changed sample %d dim %d: %v vs %v", batchSize, i, d, res.Vectors[i][d], reference[i][d])
				}
			}
		}
	}
	if reference[0][0] == reference[6][0] && reference[0][3] == reference[6][3] {
		t.Fatal("expected different images to produce different vectors")
	}
}

func TestExtractReportsDecodeFailuresInPlace(t *testing.T) {
	dir := t.TempDir()
	paths := writeImages(t, dir, 6)
	broken := filepath.Join(dir, "broken.jpg")
	testsupport.WriteCorruptImage(t, broken)
	paths = append(paths[:1], append([]string{broken}, paths[1:]...)...)

	backbone := testsupport.NewFakeBackbone(4)
	ex, err := embedding.NewExtractor(backbone, embedding.Options{BatchSize: 3, Preprocessor: smallPreprocessor(t)})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	res, err := ex.Extract(context.Background(), paths)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Index != 1 || res.Failures[0].Path != broken {
		t.Fatalf("unexpected failures %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, services.ErrImageDecode) {
		t.Fatalf("expected decode error, got %v", res.Failures[0].Err)
	}
	if res.Vectors[1] != nil {
		t.Fatal("expected nil vector for failed image")
	}
	if got := res.Succeeded(); len(got) != 6 || got[1] != 2 {
		t.Fatalf("unexpected succeeded indices %v", got)
	}
	sizes := backbone.BatchSizes()
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}

	single, err := ex.EmbedPath(context.Background(), paths[4])
	if err != nil {
		t.Fatalf("EmbedPath: %v", err)
	}
	for d := range single {
		if single[d] != res.Vectors[4][d] {
			t.Fatalf("EmbedPath differs from batch output at %d", d)
		}
	}
}

type shiftingBackbone struct{ calls int }

func (b *shiftingBackbone) Embed(_ context.Context, batch embedding.Batch) ([][]float32, error) {
	b.calls++
	out := make([][]float32, batch.N)
	for i := range out {
		out[i] = make([]float32, 3+b.calls)
	}
	return out, nil
}

func (b *shiftingBackbone) Close() error { return nil }

func TestExtractRejectsDimensionChange(t *testing.T) {
	paths := writeImages(t, t.TempDir(), 4)
	ex, err := embedding.NewExtractor(&shiftingBackbone{}, embedding.Options{BatchSize: 2, Preprocessor: smallPreprocessor(t)})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	if _, err := ex.Extract(context.Background(), paths); !errors.Is(err, services.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestExtractPropagatesBackboneFailure(t *testing.T) {
	paths := writeImages(t, t.TempDir(), 2)
	backbone := testsupport.NewFakeBackbone(4)
	backbone.Fail = errors.New("device lost")
	ex, err := embedding.NewExtractor(backbone, embedding.Options{Preprocessor: smallPreprocessor(t)})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	if _, err := ex.Extract(context.Background(), paths); err == nil {
		t.Fatal("expected backbone failure to abort extraction")
	}
	if err := ex.Close(); err != nil || !backbone.Closed() {
		t.Fatalf("expected Close to close the backbone: %v", err)
	}
}

func TestExtractStopsOnCancelledContext(t *testing.T) {
	paths := writeImages(t, t.TempDir(), 2)
	ex, err := embedding.NewExtractor(testsupport.NewFakeBackbone(2), embedding.Options{Preprocessor: smallPreprocessor(t)})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ex.Extract(ctx, paths); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpenBackboneMissingModel(t *testing.T) {
	cfg := config.Default().Embedding
	cfg.ModelPath = filepath.Join(t.TempDir(), "absent.onnx")
	_, err := embedding.OpenBackbone(cfg)
	var unavailable *services.ModelUnavailableError
	if !errors.As(err, &unavailable) || unavailable.Path != cfg.ModelPath {
		t.Fatalf("expected ModelUnavailableError naming the model, got %v", err)
	}
	if !errors.Is(err, services.ErrModelUnavailable) {
		t.Fatal("expected error to match services.ErrModelUnavailable")
	}
}
