package testsupport

import (
	"context"
	"errors"
	"sync"

	"shelflife/internal/embedding"
)

// FakeBackbone is a deterministic stand-in for the ONNX backbone. Each output
// dimension is the mean of one contiguous block of the image tensor, so
// outputs depend only on the image and never on the batch it arrived in.
type FakeBackbone struct {
	Dims int

	mu         sync.Mutex
	batchSizes []int
	closed     bool
	// Fail, when set, is returned from every Embed call.
	Fail error
}

// NewFakeBackbone returns a backbone producing dims-length vectors.
func NewFakeBackbone(dims int) *FakeBackbone {
	return &FakeBackbone{Dims: dims}
}

func (f *FakeBackbone) Embed(ctx context.Context, batch embedding.Batch) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("fake backbone closed")
	}
	if f.Fail != nil {
		return nil, f.Fail
	}
	f.batchSizes = append(f.batchSizes, batch.N)

	out := make([][]float32, batch.N)
	for i := range out {
		sample := batch.Sample(i)
		vec := make([]float32, f.Dims)
		block := max(len(sample)/f.Dims, 1)
		for d := range f.Dims {
			lo := min(d*block, len(sample))
			hi := min(lo+block, len(sample))
			var sum float64
			for _, v := range sample[lo:hi] {
				sum += float64(v)
			}
			if hi > lo {
				vec[d] = float32(sum / float64(hi-lo))
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (f *FakeBackbone) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// SetFail makes every later Embed call return err.
func (f *FakeBackbone) SetFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail = err
}

// BatchSizes returns the N of every batch seen, in call order.
func (f *FakeBackbone) BatchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batchSizes...)
}

// Closed reports whether Close was called.
func (f *FakeBackbone) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
