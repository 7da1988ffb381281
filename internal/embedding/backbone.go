package embedding

import (
	"context"
	"fmt"
)

// Batch is a dense NCHW float32 tensor of preprocessed images.
type Batch struct {
	Data     []float32
	N        int
	Channels int
	Height   int
	Width    int
}

// Validate checks that Data matches the declared shape.
func (b Batch) Validate() error {
	want := b.N * b.Channels * b.Height * b.Width
	if b.N <= 0 || len(b.Data) != want {
		return fmt.Errorf("batch shape %dx%dx%dx%d does not match %d values", b.N, b.Channels, b.Height, b.Width, len(b.Data))
	}
	return nil
}

// Sample returns the slice of Data belonging to image i.
func (b Batch) Sample(i int) []float32 {
	size := b.Channels * b.Height * b.Width
	return b.Data[i*size : (i+1)*size]
}

// Backbone maps a batch of images to one feature vector per image. An
// implementation must treat every image independently so batch composition
// never changes an image's output.
type Backbone interface {
	Embed(ctx context.Context, batch Batch) ([][]float32, error)
	Close() error
}
