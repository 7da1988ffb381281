package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"shelflife/internal/config"
	"shelflife/internal/services"
)

var (
	runtimeMu      sync.Mutex
	runtimeLibrary string
)

// initRuntime loads the ONNX Runtime shared library once per process.
func initRuntime(library string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if ort.IsInitialized() {
		if library != "" && runtimeLibrary != "" && library != runtimeLibrary {
			return fmt.Errorf("onnxruntime already initialized from %s", runtimeLibrary)
		}
		return nil
	}
	if library != "" {
		ort.SetSharedLibraryPath(library)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}
	runtimeLibrary = library
	return nil
}

// ONNXBackbone runs a feature-extractor graph through ONNX Runtime. The graph
// takes one float32 NCHW input and yields one [N, D] float32 output.
type ONNXBackbone struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	path    string
}

// OpenBackbone resolves the configured backbone. It is the only place that
// decides which model variant and execution device are used.
func OpenBackbone(cfg config.Embedding) (Backbone, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, &services.ModelUnavailableError{Resource: "embedding backbone", Path: cfg.ModelPath, Err: err}
	}
	if err := initRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, &services.ModelUnavailableError{Resource: "onnxruntime", Path: cfg.RuntimeLibrary, Err: err}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, &services.ModelUnavailableError{Resource: "onnxruntime session options", Err: err}
	}
	defer options.Destroy()

	if cfg.Device == "cuda" {
		if err := appendCUDA(options, cfg.DeviceID); err != nil {
			return nil, &services.ModelUnavailableError{Resource: "cuda execution provider", Path: cfg.ModelPath, Err: err}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, options)
	if err != nil {
		return nil, &services.ModelUnavailableError{Resource: "embedding backbone", Path: cfg.ModelPath, Err: err}
	}
	return &ONNXBackbone{session: session, path: cfg.ModelPath}, nil
}

func appendCUDA(options *ort.SessionOptions, deviceID int) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()
	if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

// Embed runs one batch. Input and output tensors are allocated per call.
func (b *ONNXBackbone) Embed(ctx context.Context, batch Batch) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, errors.New("backbone closed")
	}

	shape := ort.NewShape(int64(batch.N), int64(batch.Channels), int64(batch.Height), int64(batch.Width))
	input, err := ort.NewTensor(shape, batch.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("run backbone %s: %w", b.path, err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("backbone output is %T, want float32 tensor", outputs[0])
	}
	dims := tensor.GetShape()
	if len(dims) != 2 || dims[0] != int64(batch.N) {
		return nil, fmt.Errorf("backbone output shape %v, want [%d, D]", dims, batch.N)
	}
	width := int(dims[1])
	data := tensor.GetData()
	out := make([][]float32, batch.N)
	for i := range out {
		out[i] = append([]float32(nil), data[i*width:(i+1)*width]...)
	}
	return out, nil
}

// Close releases the session.
func (b *ONNXBackbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}
