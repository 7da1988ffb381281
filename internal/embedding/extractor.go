package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"shelflife/internal/logging"
	"shelflife/internal/scaler"
)

const defaultBatchSize = 32

// Options configures an Extractor.
type Options struct {
	BatchSize    int
	Preprocessor Preprocessor
	Logger       *slog.Logger
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
}

// Failure records an input that produced no vector.
type Failure struct {
	Index int
	Path  string
	Err   error
}

// Result holds one entry per input path. Vectors[i] is nil exactly when the
// input at i appears in Failures.
type Result struct {
	Vectors  [][]float64
	Failures []Failure
}

// Succeeded returns the indices of inputs that produced a vector, in order.
func (r *Result) Succeeded() []int {
	out := make([]int, 0, len(r.Vectors))
	for i, v := range r.Vectors {
		if v != nil {
			out = append(out, i)
		}
	}
	return out
}

// Extractor batches images through a Backbone.
type Extractor struct {
	backbone  Backbone
	pre       Preprocessor
	batchSize int
	logger    *slog.Logger
	progress  io.Writer
	dims      int
}

// NewExtractor wraps backbone. The extractor owns the backbone and closes it
// in Close.
func NewExtractor(backbone Backbone, opts Options) (*Extractor, error) {
	if backbone == nil {
		return nil, errors.New("embedding: backbone is required")
	}
	pre := opts.Preprocessor
	if pre.CropSize == 0 {
		pre = DefaultPreprocessor()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Extractor{
		backbone:  backbone,
		pre:       pre,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(opts.Logger, "embedding"),
		progress:  opts.Progress,
	}, nil
}

// Dimensions returns the vector length observed so far, or 0 before the
// first batch.
func (e *Extractor) Dimensions() int { return e.dims }

// Close releases the backbone.
func (e *Extractor) Close() error { return e.backbone.Close() }

// Extract embeds every path in fixed-size batches. Output order equals input
// order. Images that fail to decode are reported in Failures and do not
// affect other images. Backbone failures and dimension changes abort.
func (e *Extractor) Extract(ctx context.Context, paths []string) (*Result, error) {
	result := &Result{Vectors: make([][]float64, len(paths))}
	bar := startProgress(e.progress, len(paths), "Extracting features")
	defer bar.finish()

	size := e.pre.TensorSize()
	for start := 0; start < len(paths); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(paths))

		data := make([]float32, 0, (end-start)*size)
		indices := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			buf := make([]float32, size)
			if err := e.pre.Load(paths[i], buf); err != nil {
				result.Failures = append(result.Failures, Failure{Index: i, Path: paths[i], Err: err})
				continue
			}
			data = append(data, buf...)
			indices = append(indices, i)
		}

		if len(indices) > 0 {
			batch := Batch{Data: data, N: len(indices), Channels: 3, Height: e.pre.CropSize, Width: e.pre.CropSize}
			vectors, err := e.backbone.Embed(ctx, batch)
			if err != nil {
				return nil, fmt.Errorf("embed batch starting at %d: %w", start, err)
			}
			if len(vectors) != len(indices) {
				return nil, fmt.Errorf("embed batch starting at %d: backbone returned %d vectors for %d images", start, len(vectors), len(indices))
			}
			for j, idx := range indices {
				vec, err := e.accept(vectors[j])
				if err != nil {
					return nil, fmt.Errorf("%s: %w", paths[idx], err)
				}
				result.Vectors[idx] = vec
			}
		}
		bar.add(end - start)
		e.logger.Debug("batch embedded",
			logging.Int("start", start),
			logging.Int("images", len(indices)),
			logging.Int("failed", end-start-len(indices)),
		)
	}
	return result, nil
}

// EmbedPath embeds a single image as a batch of one.
func (e *Extractor) EmbedPath(ctx context.Context, path string) ([]float64, error) {
	buf := make([]float32, e.pre.TensorSize())
	if err := e.pre.Load(path, buf); err != nil {
		return nil, err
	}
	vectors, err := e.backbone.Embed(ctx, Batch{Data: buf, N: 1, Channels: 3, Height: e.pre.CropSize, Width: e.pre.CropSize})
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", path, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed %s: backbone returned %d vectors", path, len(vectors))
	}
	vec, err := e.accept(vectors[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vec, nil
}

func (e *Extractor) accept(v []float32) ([]float64, error) {
	if len(v) == 0 {
		return nil, errors.New("backbone returned an empty vector")
	}
	if e.dims == 0 {
		e.dims = len(v)
	} else if len(v) != e.dims {
		return nil, &scaler.DimensionMismatchError{Component: "embedding", Expected: e.dims, Got: len(v)}
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out, nil
}
